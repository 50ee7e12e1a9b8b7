package eventstream

import (
	"time"

	"github.com/mnemohq/mnemo/pkg/memory"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMemoryMutated is emitted after a memory mutation is mirrored.
	EventTypeMemoryMutated = "mnemo.memory.mutated"
)

// MemoryMutatedEvent is a transport-neutral payload describing one memory
// mutation that passed through the sync coordinator.
type MemoryMutatedEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	MemoryID      string       `json:"memory_id"`
	Event         memory.Event `json:"event"`
	UserID        string       `json:"user_id,omitempty"`
	SessionID     string       `json:"session_id,omitempty"`
	ActorID       string       `json:"actor_id,omitempty"`
	RoleID        *int64       `json:"role_id,omitempty"`
}
