// Package resolver implements an adaptive batch resolver: it resolves a
// precondition (typically a download URL) for many items against an upstream
// that may rate-limit, using a batch size that shrinks under failure and
// grows under sustained success.
//
// Each pass takes up to B items from the front of the queue and resolves them
// concurrently. Items that fail go back to the front of the queue in their
// original order and B halves, never below the minimum. A pass with no
// failures doubles B, never above the maximum. The defaults are 8, 2 and 16.
//
// Without an attempt ceiling an item that never resolves is retried forever
// at the minimum batch size; callers that cannot accept that should set
// [WithMaxAttempts] or cancel through [WithCheckpoint] or the context.
package resolver
