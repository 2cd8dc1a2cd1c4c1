// Package queue implements the outbound mail queue: intake validation,
// suppression gating at enqueue time, the claim/finalize lifecycle used by
// send workers, and the retry disposition applied when an attempt fails.
//
// Persistence is behind the Repository interface so the service can be
// tested without a database. The Postgres implementation lives in
// internal/repository/postgres.
package queue
