// Package domain defines the core types of the campaign dispatch engine.
//
// Types in this package are value objects shared by the renderer, the
// recipient queue, the dispatcher, the repositories and the HTTP layer.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and transition methods are allowed (pure functions on the type)
//   - Constants and enums belong here
package domain
