// Package engine provides the job and case execution engine.
// It creates jobs and cases, runs agent work asynchronously under a
// concurrency bound, and drives status changes from the work outcomes
// through the lifecycle coordinator, persisting every change to the store.
package engine
