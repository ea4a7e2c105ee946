// Package publish drives a resumable chunked upload against a Transport.
//
// A publish attempt is a small state machine:
//
//	Idle -> Transferring -> {Transferring | Retrying | Complete | Failed}
//
// Transient transport errors are retried with bounded exponential backoff at
// the same chunk offset; the transfer resumes, it never restarts from zero.
// Non-transient errors fail immediately. Retries are fully contained here:
// callers see eventual success, ErrRetriesExhausted, or the terminal error.
package publish
