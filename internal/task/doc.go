// Package task defines the node model for hierarchical task trees.
//
// A [Node] is one unit of work. Nodes form a tree: the root's ID doubles as
// the public identifier of the whole tree, and every descendant receives an
// ID derived from the root (<rootID>-<n>). A node's [Path] is the root name
// followed by each descendant name, joined with [PathSeparator].
//
// # Status
//
// Status moves strictly forward:
//
//	pending -> running -> succeeded | failed | cancelled
//
// Any attempt to leave a terminal status returns [ErrInvalidTransition].
// Callers treat that as a programming error rather than ignoring it.
//
// # Cancellation
//
// Cancellation is cooperative. [Node.Cancel] raises a flag that is visible to
// the node and every descendant through [Token]. Work is never interrupted
// directly; instead each suspension point calls [Token.Check] and stops
// scheduling new steps once it reports [ErrCancelled].
//
// # Thread Safety
//
// All [Node] methods are safe for concurrent use. [Snapshot] values are
// detached copies and can be handed to observers freely.
package task
