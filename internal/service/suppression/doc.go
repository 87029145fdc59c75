// Package suppression implements the per-user suppression list service.
//
// A suppressed address is skipped when a contact file is admitted to a
// campaign. Suppressions come from permanent provider rejections recorded by
// the dispatcher, manual entries and imports.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression
