// Package registry admits named workflows and keeps at most one live
// execution per workflow key.
//
// A workflow key is the canonical JSON of the workflow name and its
// arguments. Executing a key that is still running returns the running
// execution's id instead of starting a second tree. When a root settles its
// entries are removed, a "tree.<status>" event is published on the bus and
// the optional [BoundaryNotifier] is told the outcome.
//
// A Registry is constructed explicitly and owned by its caller; there is no
// package-level instance.
package registry
