// Package syncmem provides the coordinator through which every primary
// store mutation flows. The coordinator mirrors each mutation into the
// relational store, resolves the participant role, and appends one history
// event per mutation.
//
// The primary store is authoritative: its errors propagate to the caller,
// and a mutation succeeded if and only if the primary store accepted it.
// Mirroring is best-effort; mirror failures are logged and swallowed, and
// the relational projection self-heals through the startup repair pass.
package syncmem

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo/pkg/eventstream"
	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/primary"
	"github.com/mnemohq/mnemo/pkg/relational"
	"github.com/mnemohq/mnemo/pkg/role"
)

// Coordinator wraps a primary driver and mirrors its mutations.
type Coordinator struct {
	primary primary.Driver
	store   *relational.Store
	roles   *role.Resolver
	events  eventstream.Publisher
	log     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher attaches an eventstream publisher. Publishing is
// best-effort; failures are logged, never surfaced.
func WithPublisher(p eventstream.Publisher) Option {
	return func(c *Coordinator) {
		c.events = p
	}
}

// WithLogger overrides the default nop logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// NewCoordinator assembles the coordinator from its collaborators. The
// relational store and role resolver share one connection handle, owned by
// the caller.
func NewCoordinator(p primary.Driver, store *relational.Store, roles *role.Resolver, opts ...Option) *Coordinator {
	c := &Coordinator{
		primary: p,
		store:   store,
		roles:   roles,
		log:     logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Create stores new memory text in the primary store and mirrors the ADD.
// Returns the assigned id and the primary store's event decision.
func (c *Coordinator) Create(ctx context.Context, text string, scope memory.Scope, metadata map[string]any) (string, memory.Event, error) {
	id, event, err := c.primary.Create(ctx, text, primaryMetadata(text, scope, metadata))
	if err != nil {
		return "", memory.EventNone, err
	}

	if event == memory.EventAdd {
		c.mirror(ctx, func() error {
			return c.mirrorAdd(ctx, id, text, scope, metadata)
		}, id)
	}

	c.publish(ctx, id, event, scope)
	return id, event, nil
}

// Update replaces the text of an existing memory and mirrors the UPDATE.
// An update the primary store reports as NONE (unknown id or unchanged
// text) is a warning and is not mirrored.
func (c *Coordinator) Update(ctx context.Context, id, text string, scope memory.Scope, metadata map[string]any) (memory.Event, error) {
	oldText := c.previousText(ctx, id)

	event, err := c.primary.Update(ctx, id, text, primaryMetadata(text, scope, metadata))
	if err != nil {
		return memory.EventNone, err
	}

	if event != memory.EventUpdate {
		c.log.Warn("update was a no-op in the primary store", "id", id, "event", event)
		return event, nil
	}

	c.mirror(ctx, func() error {
		return c.mirrorUpdate(ctx, id, oldText, text, scope, metadata)
	}, id)

	c.publish(ctx, id, event, scope)
	return event, nil
}

// Delete removes a memory from the primary store, mirrors the DELETE, and
// clears every transcript link pointing at the id.
func (c *Coordinator) Delete(ctx context.Context, id string, scope memory.Scope) (memory.Event, error) {
	oldText := c.previousText(ctx, id)

	event, err := c.primary.Delete(ctx, id)
	if err != nil {
		return memory.EventNone, err
	}

	if event != memory.EventDelete {
		c.log.Warn("delete was a no-op in the primary store", "id", id, "event", event)
		return event, nil
	}

	c.mirror(ctx, func() error {
		return c.mirrorDelete(ctx, id, oldText, scope)
	}, id)

	c.publish(ctx, id, event, scope)
	return event, nil
}

// Get reads one memory from the primary store.
func (c *Coordinator) Get(ctx context.Context, id string) (*primary.Record, error) {
	return c.primary.Get(ctx, id)
}

// Search runs a similarity query against the primary store.
func (c *Coordinator) Search(ctx context.Context, query string, limit int) ([]primary.SearchResult, error) {
	return c.primary.Search(ctx, query, limit)
}

// Store exposes the relational mirror for structured read paths.
func (c *Coordinator) Store() *relational.Store {
	return c.store
}

// Roles exposes the role resolver.
func (c *Coordinator) Roles() *role.Resolver {
	return c.roles
}

// SyncExistingMemories mirrors every primary store record into the
// relational store. A migration aid for databases that predate the mirror;
// rows that already exist are skipped.
func (c *Coordinator) SyncExistingMemories(ctx context.Context) (int, error) {
	records, err := c.primary.List(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, rec := range records {
		if _, err := c.store.GetMemory(ctx, rec.ID); err == nil {
			continue
		}

		scope := scopeFromMetadata(rec.Metadata)
		if err := c.mirrorAdd(ctx, rec.ID, rec.Text, scope, rec.Metadata); err != nil {
			c.log.Warn("could not backfill memory", "id", rec.ID, "error", err)
			continue
		}
		synced++
	}

	c.log.Info("backfilled memories into relational mirror", "count", synced)
	return synced, nil
}

// mirror runs a mirroring function and swallows its error. The public
// contract is that a mutation succeeded iff the primary store accepted it;
// the mirror is a queryability aid, not correctness-critical.
func (c *Coordinator) mirror(_ context.Context, fn func() error, id string) {
	if err := fn(); err != nil {
		c.log.Error("failed to mirror mutation to relational store",
			"id", id, "error", err)
	}
}

func (c *Coordinator) mirrorAdd(ctx context.Context, id, text string, scope memory.Scope, metadata map[string]any) error {
	cleanText, roleID := c.resolveRole(ctx, text, scope)
	now := time.Now().UTC()

	// Summary-marked memories update the existing summary row for their
	// scope instead of accumulating duplicates.
	if isSummary(metadata) {
		existing, err := c.store.FindMarkedMemory(ctx, scope.UserID, scope.SessionID, "summary")
		if err == nil && existing != nil {
			c.log.Info("updating existing summary memory",
				"id", existing.ID, "user_id", scope.UserID, "session_id", scope.SessionID)
			return c.store.UpdateMemory(ctx, existing.ID, cleanText, memory.ResidualMetadata(metadata), now)
		}
	}

	err := c.store.AddMemory(ctx, memory.Record{
		ID:        id,
		Text:      cleanText,
		UserID:    scope.UserID,
		SessionID: scope.SessionID,
		ActorID:   scope.ActorID,
		Role:      scope.RoleHint,
		RoleID:    roleID,
		Metadata:  memory.ResidualMetadata(metadata),
		CreatedAt: now,
	})
	if err != nil {
		return err
	}

	return c.store.AppendHistory(ctx, memory.HistoryEntry{
		MemoryID:  id,
		NewText:   cleanText,
		Event:     memory.EventAdd,
		ActorID:   scope.ActorID,
		Role:      scope.RoleHint,
		CreatedAt: now,
	})
}

func (c *Coordinator) mirrorUpdate(ctx context.Context, id, oldText, text string, scope memory.Scope, metadata map[string]any) error {
	now := time.Now().UTC()

	if err := c.store.UpdateMemory(ctx, id, text, memory.ResidualMetadata(metadata), now); err != nil {
		return err
	}

	return c.store.AppendHistory(ctx, memory.HistoryEntry{
		MemoryID:  id,
		OldText:   oldText,
		NewText:   text,
		Event:     memory.EventUpdate,
		ActorID:   scope.ActorID,
		Role:      scope.RoleHint,
		CreatedAt: now,
	})
}

func (c *Coordinator) mirrorDelete(ctx context.Context, id, oldText string, scope memory.Scope) error {
	unlinked, err := c.store.DeleteMemory(ctx, id)
	if err != nil {
		return err
	}
	if unlinked > 0 {
		c.log.Info("unlinked transcript rows for deleted memory",
			"id", id, "count", unlinked)
	}

	return c.store.AppendHistory(ctx, memory.HistoryEntry{
		MemoryID:  id,
		OldText:   oldText,
		Event:     memory.EventDelete,
		IsDeleted: true,
		ActorID:   scope.ActorID,
		Role:      scope.RoleHint,
		CreatedAt: time.Now().UTC(),
	})
}

// resolveRole applies the resolution precedence: a voice fingerprint match
// wins over a tag-derived role; an unmatched fingerprint is attached to the
// tag role for future lookups; no signal means no role. Resolution failures
// degrade to a nil role, never failing the mirror.
func (c *Coordinator) resolveRole(ctx context.Context, text string, scope memory.Scope) (string, *int64) {
	cleanText, tagRole, err := c.roles.ParseRoleFromText(ctx, text)
	if err != nil {
		c.log.Warn("role tag parsing failed", "error", err)
		return text, nil
	}

	if scope.VoiceHash != "" {
		voiceRole, err := c.roles.IdentifyRoleByVoice(ctx, scope.VoiceHash)
		if err != nil {
			c.log.Warn("voice fingerprint lookup failed", "error", err)
		}

		if voiceRole != nil {
			return cleanText, &voiceRole.ID
		}

		if tagRole != nil {
			// New fingerprint for a known role: remember it.
			if tagRole.VoiceHash == "" {
				if err := c.roles.UpdateRoleVoiceHash(ctx, tagRole.ID, scope.VoiceHash); err != nil {
					c.log.Warn("could not attach voice fingerprint",
						"role_id", tagRole.ID, "error", err)
				}
			}
			return cleanText, &tagRole.ID
		}

		return cleanText, nil
	}

	if tagRole != nil {
		return cleanText, &tagRole.ID
	}

	return cleanText, nil
}

// previousText reads the current text for history's old-value column.
// Missing records and read failures degrade to an empty old value.
func (c *Coordinator) previousText(ctx context.Context, id string) string {
	rec, err := c.primary.Get(ctx, id)
	if err != nil || rec == nil {
		return ""
	}

	return rec.Text
}

func (c *Coordinator) publish(ctx context.Context, id string, event memory.Event, scope memory.Scope) {
	if c.events == nil {
		return
	}

	err := c.events.PublishMutation(ctx, &eventstream.MemoryMutatedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeMemoryMutated,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		MemoryID:      id,
		Event:         event,
		UserID:        scope.UserID,
		SessionID:     scope.SessionID,
		ActorID:       scope.ActorID,
	})
	if err != nil {
		c.log.Warn("could not publish mutation event", "id", id, "error", err)
	}
}

// primaryMetadata folds the typed scope back into the open metadata map the
// primary store expects, without mutating the caller's map.
func primaryMetadata(_ string, scope memory.Scope, metadata map[string]any) map[string]any {
	md := make(map[string]any, len(metadata)+5)
	for k, v := range metadata {
		md[k] = v
	}

	if scope.UserID != "" {
		md["user_id"] = scope.UserID
	}
	if scope.SessionID != "" {
		md["run_id"] = scope.SessionID
	}
	if scope.ActorID != "" {
		md["actor_id"] = scope.ActorID
	}
	if scope.RoleHint != "" {
		md["role"] = scope.RoleHint
	}
	if scope.VoiceHash != "" {
		md["voice_hash"] = scope.VoiceHash
	}

	return md
}

// scopeFromMetadata recovers a typed scope from a primary store record's
// metadata, for backfill. The "run_id" alias takes precedence over
// "session_id", matching what primaryMetadata writes.
func scopeFromMetadata(md map[string]any) memory.Scope {
	str := func(key string) string {
		if v, ok := md[key].(string); ok {
			return v
		}
		return ""
	}

	sessionID := str("run_id")
	if sessionID == "" {
		sessionID = str("session_id")
	}

	return memory.Scope{
		UserID:    str("user_id"),
		SessionID: sessionID,
		ActorID:   str("actor_id"),
		RoleHint:  str("role"),
		VoiceHash: str("voice_hash"),
	}
}

func isSummary(md map[string]any) bool {
	v, ok := md["summary"]
	if !ok {
		return false
	}

	b, ok := v.(bool)
	return ok && b
}
