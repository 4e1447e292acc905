// Package delivery runs the worker pool that sends queued deliveries to
// receivers.
//
// Each logical delivery moves through:
//
//	queued -> running -> succeeded
//	                  -> queued (attempt+1, after backoff)
//	                  -> exhausted (attempt == maxAttempts)
//	                  -> abandoned (endpoint deleted or inactive)
//
// The endpoint is re-read before every attempt, so a rotated secret, a changed
// URL or a deactivation applies to the next attempt without touching jobs
// already in the queue. Every HTTP attempt appends exactly one row to the
// event log and one outcome to the registry's failure window.
package delivery
