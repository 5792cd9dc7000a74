package interfaces

import "context"

// Scheduler lets an event handler leave and re-enter the serialized dispatch
// loop. Handlers run one at a time against the session store; slow
// collaborator calls (reply generation, archival email) must not stall the
// loop, so they run via Go and apply their results via Submit. Any state a
// continuation touches must be re-read inside it: the store may have moved
// on while the call was in flight.
type Scheduler interface {
	// Go runs fn on its own goroutine, outside the dispatch loop.
	Go(name string, fn func())

	// Submit queues fn to run on the dispatch loop. It does not wait for
	// execution and fails only if the loop is stopped or saturated.
	Submit(name string, fn func(ctx context.Context) error) error
}
