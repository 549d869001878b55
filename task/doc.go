// Package task defines the asynchronous work queue model: at-least-once
// delivery with a skip-locked claim, bounded retries with exponential
// backoff, and dead-lettering once the attempt budget is exhausted.
//
// A claimed task is invisible to other claimants. A worker that crashes
// mid-task leaves its claim behind; the stale-claim reaper returns such
// tasks to pending after the lease threshold passes.
package task
