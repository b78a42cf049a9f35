// Package dispatch turns queued jobs into handler calls against the workers
// that pass their constraints.
//
// For each job the dispatcher:
//   - resolves the candidate workers from the job's selector (all workers in
//     index order, one index, or an explicit ordered list)
//   - keeps the candidates for which every named constraint evaluates true,
//     checking constraints in the order the job lists them
//   - rejects the job with ErrNoEligibleWorker when nobody survives, without
//     calling the handler or touching constraint values
//   - hands the first survivor (or all survivors for multi jobs) to the handler
//   - applies success or failure feedback for every worker the handler saw and
//     every constraint the job named
//
// Selection runs under one mutex so concurrent jobs see a consistent pool and
// constraint state. Handlers run concurrently and may share workers; constraint
// cells serialize their own updates.
//
// Error handling:
//   - Bad selector: ErrInvalidSelector, job fails, no feedback
//   - Nobody eligible: ErrNoEligibleWorker, job rejected, no feedback
//   - Handler error or panic: failure feedback, error returned unchanged
//
// The dispatcher never retries and never times out a handler. Callers that
// want a retry re-enqueue the job.
package dispatch
