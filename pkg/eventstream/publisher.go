// Package eventstream publishes memory mutation events to an event stream
// backend. Publishing is best-effort from the coordinator's perspective; a
// failed publish never fails the mutation that triggered it.
package eventstream

import "context"

// Publisher publishes mutation events to an event stream backend.
type Publisher interface {
	PublishMutation(ctx context.Context, event *MemoryMutatedEvent) error
	Close() error
}
