// Package dispatch maintains one cron trigger per channel and runs job
// bodies with single-flight gating.
//
// If a trigger fires while the previous run for the same channel is still
// in flight, the firing is dropped, not queued. Firings missed while the
// process could not evaluate triggers (suspend, clock jumps) coalesce into
// at most the next scheduled run, because the next activation is always
// computed from the current time.
//
// Job bodies for different channels run concurrently; a failing job body is
// logged and never unschedules its channel.
package dispatch
