// Package event provides a pub-sub event bus for engine observability.
//
// Engine processes publish what happens to them (phase changes, incumbent
// improvements, hub dispatches, termination rounds, checkpoints) without
// knowing who listens. The metrics collectors and the run summary subscribe.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Thread Safety
//
// The [Bus] is safe for concurrent use, and all processes of a run share
// one. Handlers run synchronously on the publishing process's goroutine, so
// they must be quick and safe for concurrent calls.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	bus.Subscribe(event.TypeIncumbentImproved, func(e event.Event) {
//	    imp := e.(event.IncumbentImprovedEvent)
//	    fmt.Println("new incumbent", imp.Value, "from rank", imp.Source)
//	})
//	bus.Publish(event.NewIncumbentImprovedEvent(3, 42, 3, 1, true))
package event
