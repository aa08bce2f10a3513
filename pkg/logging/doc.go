// Package logging builds the zerolog loggers shared by the service.
//
// Setup installs a process-wide logger once at startup; packages then derive
// their own with NewLogger, which tags every event with a component field.
//
// # Levels
//
// debug carries per-item detail: batch parameters, cache hits and misses,
// individual store reads and writes.
//
// info records completed batches with their counts and duration, and server
// lifecycle events.
//
// warn marks degraded but handled situations: items dropped under
// best-effort, aborted fail-fast batches, retries, cache errors that fall
// back to a direct fetch.
//
// error is reserved for conditions an operator must act on: the store being
// unreachable, 5xx responses, bad configuration.
//
// # Fields
//
// Besides component, events use key and index for the item and its input
// position, mode (fail_fast, best_effort), status (success, failure,
// timed_out), duration, and error_class (transient, permanent).
package logging
