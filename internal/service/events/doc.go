// Package events owns the append-only delivery event log and the aggregate
// views (daily counts, rolling funnel) recomputed from it.
package events
