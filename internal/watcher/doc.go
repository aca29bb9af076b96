// Package watcher batches task-tree changes for an external observer.
//
// Engine and registry hooks arrive far faster than a UI wants to repaint. A
// [Watcher] collects them into four accumulators (new roots, new children,
// progress updates and terminal statuses) and delivers one [Batch] per flush
// interval, skipping intervals in which nothing happened.
//
// Updates to the same node within one window are coalesced field by field:
// the first non-zero progress, total and message win, and later values only
// fill fields that are still unset.
//
// The flush ticker is started lazily by [Watcher.EnsureStarted]; only one is
// ever created. Tests drive it with a fake clock via [WithClock].
package watcher
