// Package state persists per-channel quota history and topic usage so
// quotas stay meaningful across restarts.
//
// Persistence is a policy, not a given: the "none" driver keeps everything
// in memory and a restart resets quotas (logged at startup). The "file"
// driver writes one JSON snapshot per channel; "sqlite" keeps everything in
// a single database file.
package state
