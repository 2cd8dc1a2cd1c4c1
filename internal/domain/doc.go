// Package domain defines the core business types for the mailqueue delivery
// engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation and pure state transitions. They are the shared language between
// handlers, services, repositories, and workers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure methods on the types are allowed
//   - Constants and enums belong here
package domain
