// Package quota tracks per-channel upload accounting over a rolling
// local-day window.
//
// The tracker reports whether a channel may upload; callers decide. History
// is pruned to the current calendar day (in the tracker's time zone) on every
// check, so quotas reset implicitly at local midnight.
package quota
