// Package session runs submissions through the tutoring pipeline and keeps
// the record of what happened.
//
// Every solve becomes a run. The run row is written before the pipeline
// starts, each finished node is stored as a run event, and the final state
// is saved when the pipeline returns, even if the caller has gone away.
// Live watchers subscribe to a run through an in-memory Broadcaster; slow
// watchers drop events rather than stall the pipeline.
//
// Identical submissions from the same student inside the dedupe window are
// answered from the existing run instead of starting a new one. Failed runs
// are forgotten so the student can retry.
//
// Feedback closes the loop: a solution marked accurate is written to memory
// and added to the knowledge base with source "memory:<run id>", so later
// retrievals can use it. RecordUsage wraps the model provider to attribute
// token counts to the run and node that spent them.
package session
