// Package memory defines the core types shared across the mnemo system:
// memory records, their append-only history, participant roles, and the
// scoping metadata that travels with every mutation.
//
// The primary (semantic) store and the relational mirror both speak in these
// types. The relational mirror is a queryable projection of the primary
// store; the primary store remains authoritative for existence.
package memory

import "time"

// Event is the outcome tag of a memory mutation.
type Event string

const (
	// EventAdd indicates a new memory was created.
	EventAdd Event = "ADD"

	// EventUpdate indicates an existing memory's text changed.
	EventUpdate Event = "UPDATE"

	// EventDelete indicates a memory was removed.
	EventDelete Event = "DELETE"

	// EventNone indicates the primary store decided no change was needed.
	EventNone Event = "NONE"
)

// Scope carries the identity and session context for a mutation. It is
// decided once at the ingress boundary; downstream layers never re-parse
// metadata maps to recover these fields.
type Scope struct {
	UserID    string
	SessionID string
	ActorID   string

	// RoleHint is a free-form role label supplied by the caller
	// (e.g. "user"). It is recorded verbatim on history rows.
	RoleHint string

	// VoiceHash is an opaque acoustic fingerprint for the speaker, when the
	// surrounding application captured one. A fingerprint match takes
	// precedence over any tag parsed from the memory text.
	VoiceHash string
}

// Record is the canonical unit of remembered information as mirrored in the
// relational store. ID is assigned by the primary store and never changes.
type Record struct {
	ID           string
	Text         string
	UserID       string
	SessionID    string
	ActorID      string
	Role         string
	RoleID       *int64
	Metadata     map[string]any
	OriginalText string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// RoleName is populated by join reads; empty otherwise.
	RoleName string
}

// HistoryEntry is one row of the append-only audit trail for a memory.
// Entries are never updated or deleted after insertion.
type HistoryEntry struct {
	ID        string
	MemoryID  string
	OldText   string
	NewText   string
	Event     Event
	CreatedAt time.Time
	UpdatedAt time.Time
	IsDeleted bool
	ActorID   string
	Role      string
}

// Role is a stable conversational participant identity, resolved from a text
// tag or an acoustic fingerprint. Roles are created lazily and never deleted.
type Role struct {
	ID        int64
	Name      string
	VoiceHash string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatRecord is a row of the externally-owned conversation transcript. The
// MemoryID link is the only column this system manages.
type ChatRecord struct {
	ID        int64
	AgentID   string
	SessionID string
	ChatType  ChatType
	Content   string
	MemoryID  *string
	CreatedAt time.Time
}

// ChatType enumerates the speaker kind of a transcript row.
type ChatType int

const (
	// ChatTypeUser marks a message spoken by the human user.
	ChatTypeUser ChatType = 1

	// ChatTypeAssistant marks a reply produced by the agent.
	ChatTypeAssistant ChatType = 2
)

// MetadataKeys lists the scoping fields that are lifted out of open metadata
// maps at the ingress boundary. Residual metadata persisted alongside a
// record excludes these.
var MetadataKeys = []string{
	"user_id", "session_id", "run_id", "actor_id", "role",
	"role_id", "role_name", "voice_hash",
	"created_at", "updated_at", "original_text", "data",
}

// ResidualMetadata returns a copy of md with the standard scoping keys
// removed. Returns nil when nothing remains.
func ResidualMetadata(md map[string]any) map[string]any {
	if len(md) == 0 {
		return nil
	}

	standard := make(map[string]struct{}, len(MetadataKeys))
	for _, k := range MetadataKeys {
		standard[k] = struct{}{}
	}

	out := make(map[string]any)
	for k, v := range md {
		if _, ok := standard[k]; !ok {
			out[k] = v
		}
	}

	if len(out) == 0 {
		return nil
	}

	return out
}
