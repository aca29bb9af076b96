// Package event provides the synchronous pub-sub bus that carries task-tree
// hooks between the engine, the registry and the progress watcher.
//
// Components publish events without knowing who receives them. The engine
// publishes a node hook for every root started, every child created, every
// progress update and every terminal outcome; the registry adds tree boundary
// events; the watcher subscribes and turns the stream into batches.
//
// # Main Types
//
//   - [Event]: interface implemented by every event (EventType, Timestamp)
//   - [Bus]: synchronous dispatcher, safe for concurrent use
//   - [Handler]: func(Event)
//
// # Event Categories
//
// Node hooks:
//   - [TaskAddedEvent] ("task.added"): a root started running
//   - [TaskChildEvent] ("task.child"): a node gained a child
//   - [TaskUpdatedEvent] ("task.updated"): a node reported progress
//   - [TaskFinishedEvent] ("task.finished"): a node succeeded
//   - [TaskFailedEvent] ("task.failed"): a node failed
//   - [TaskCancelledEvent] ("task.cancelled"): a node stopped on cancellation
//
// Tree boundaries:
//   - [TreeSettledEvent] ("tree.succeeded", "tree.failed", "tree.cancelled"):
//     published exactly once per root when it reaches a terminal status
//
// Config:
//   - [ConfigReloadedEvent] ("config.reloaded")
//
// # Thread Safety
//
// [Bus] is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine, so a handler must not block. A panicking handler is
// logged and does not prevent delivery to the remaining handlers.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	bus.Subscribe(event.TypeTaskFailed, func(e event.Event) {
//	    failed := e.(event.TaskFailedEvent)
//	    log.Printf("%s failed: %v", failed.Path, failed.Err)
//	})
//
//	id := bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("event %s at %v", e.EventType(), e.Timestamp())
//	})
//	defer bus.Unsubscribe(id)
package event
