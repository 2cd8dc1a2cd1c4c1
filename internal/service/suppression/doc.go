// Package suppression implements the delivery-state engine: bounce and
// complaint bookkeeping, the suppression list gating all outbound sends, and
// list-scoped unsubscribe records.
//
// Suppression decisions are deterministic and idempotent: any hard bounce or
// the third bounce overall suppresses an address, and only abuse-class
// complaints do. Repository implementations must apply the bounce or
// complaint write and the resulting suppression in a single transaction so a
// crash can never record the cause without its effect.
package suppression
