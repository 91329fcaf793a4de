// Package compaction turns an overlong conversation into a summarization
// request and frames the upstream's answer as a reusable summary.
//
// [Decide] rewrites a request when the caller sent an explicit command (see
// [DetectCommand]) or when automatic compaction is enabled and the input is
// too large. System and developer turns are preserved verbatim; everything
// else becomes a budgeted transcript. [Finalize] marks the returned summary
// with [Marker], attaches compaction metadata and hands the summary to the
// session layer for rehydration of later turns.
package compaction
