// Package vault holds the custody state machine: a single record owning
// funds, its guarded transitions, and the invariants those transitions
// preserve.
//
// The record tracks an owner who may withdraw at will, an heir who may
// claim ownership once the owner has been inactive for the full
// inactivity window, a balance, and the last-activity timestamp that
// anchors the window. Transitions are pure: they take the current record
// and an injected clock and return the next record, leaving persistence
// and settlement to callers.
package vault
