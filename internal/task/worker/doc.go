// Package worker implements the paced, single-queue scheduler that runs one
// target's work against a rate-limited remote API.
//
// A Worker admits at most one task per delay interval:
//   - tasks wait in a stable priority queue (lower value runs first)
//   - a single-shot timer (the pacer) pops and runs one task, then re-arms
//   - every Reset bumps an epoch; outcomes of tasks started under an older
//     epoch are discarded without touching the progress counters
//
// The worker never retries; retry policy belongs to the task itself.
package worker
