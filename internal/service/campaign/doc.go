// Package campaign implements campaign setup and lifecycle commands.
//
// The service layer owns the rules for drafts: templates are validated,
// contact uploads are checked against the template variables and admitted
// through the recipient queue, attachments are stored as blobs. Start, Pause
// and Resume are delegated to the dispatcher after an ownership check.
// It depends on repository interfaces defined in this package and should
// never import from api/.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
