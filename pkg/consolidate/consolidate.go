// Package consolidate folds multiple candidate memories produced for one
// participant turn into a single canonical record.
//
// Fact extraction can emit several small memories for a single utterance.
// The engine joins their texts into one record, removes the originals, and
// marks the result so a later pass for the same scope updates it in place
// instead of stacking a second consolidated record.
package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/primary"
	"github.com/mnemohq/mnemo/pkg/relational"
)

// separator joins candidate texts in input order.
const separator = "; "

// marker is the metadata flag identifying a consolidated record.
const marker = "consolidated"

// Engine merges candidate memories for one (userID, sessionID, roleID)
// scope. The relational store is authoritative for the merge; an optional
// primary driver is kept in sync best-effort.
type Engine struct {
	store   *relational.Store
	primary primary.Driver
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrimary attaches a primary driver so consolidation also replaces the
// candidates there. Primary failures are logged, never surfaced; the
// relational outcome is what callers observe.
func WithPrimary(p primary.Driver) Option {
	return func(e *Engine) {
		e.primary = p
	}
}

// WithLogger overrides the default nop logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// NewEngine creates a consolidation engine over the given store.
func NewEngine(store *relational.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   logger.Nop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Result reports what a consolidation pass did.
type Result struct {
	// MemoryID is the id of the consolidated record. Empty when no
	// consolidation occurred.
	MemoryID string

	// Merged is how many candidate records were folded in.
	Merged int

	// Updated is true when an existing consolidated record was rewritten
	// in place rather than a new one created.
	Updated bool
}

// Consolidate merges the candidate ids into one record for the scope.
//
// Fewer than two candidates is a no-op; the single candidate stands as-is.
// Any candidate fetch failure aborts the whole pass with no deletes, so a
// failed consolidation leaves every original intact. When a prior
// consolidated record exists for the scope, it is updated in place;
// consolidation is idempotent per scope, not additive across turns.
func (e *Engine) Consolidate(ctx context.Context, scope memory.Scope, roleID *int64, candidateIDs []string) (*Result, error) {
	if len(candidateIDs) < 2 {
		e.log.Debug("skipping consolidation, not enough candidates",
			"count", len(candidateIDs))
		return &Result{}, nil
	}

	// Fetch everything up front. Deletes start only once every candidate
	// is in hand.
	candidates := make([]*memory.Record, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		rec, err := e.store.GetMemory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching candidate %s: %w", id, err)
		}
		candidates = append(candidates, rec)
	}

	texts := make([]string, len(candidates))
	for i, rec := range candidates {
		texts[i] = rec.Text
	}
	joined := strings.Join(texts, separator)

	existing, err := e.store.FindMarkedMemoryForRole(ctx, scope.UserID, scope.SessionID, roleID, marker)
	if err != nil {
		e.log.Warn("consolidated-record lookup failed, creating a new record",
			"user_id", scope.UserID, "session_id", scope.SessionID, "error", err)
		existing = nil
	}

	if err := e.deleteCandidates(ctx, candidates); err != nil {
		return nil, err
	}

	if existing != nil {
		return e.updateInPlace(ctx, existing, joined, len(candidates))
	}

	return e.createConsolidated(ctx, scope, roleID, joined, candidates)
}

// ConsolidateScope runs a pass over every unconsolidated memory currently in
// the (userID, sessionID, roleID) scope, without an explicit candidate list.
func (e *Engine) ConsolidateScope(ctx context.Context, scope memory.Scope, roleID *int64) (*Result, error) {
	// A scope can hold more rows than the default list cap; the pass must
	// see all of them or it would consolidate only the newest slice.
	records, err := e.store.ListMemories(ctx, relational.Filter{
		UserID:    scope.UserID,
		SessionID: scope.SessionID,
		Limit:     -1,
	})
	if err != nil {
		return nil, fmt.Errorf("listing scope memories: %w", err)
	}

	var ids []string
	for i := len(records) - 1; i >= 0; i-- { // oldest first
		rec := records[i]
		if !sameRole(rec.RoleID, roleID) {
			continue
		}
		if isConsolidated(rec.Metadata) {
			continue
		}
		ids = append(ids, rec.ID)
	}

	return e.Consolidate(ctx, scope, roleID, ids)
}

func (e *Engine) deleteCandidates(ctx context.Context, candidates []*memory.Record) error {
	for _, rec := range candidates {
		if _, err := e.store.DeleteMemory(ctx, rec.ID); err != nil {
			return fmt.Errorf("deleting candidate %s: %w", rec.ID, err)
		}

		if e.primary != nil {
			if _, err := e.primary.Delete(ctx, rec.ID); err != nil {
				e.log.Warn("could not delete candidate from primary store",
					"id", rec.ID, "error", err)
			}
		}
	}

	return nil
}

func (e *Engine) updateInPlace(ctx context.Context, existing *memory.Record, joined string, merged int) (*Result, error) {
	now := time.Now().UTC()
	md := consolidatedMetadata(existing.Metadata, merged)

	if err := e.store.UpdateMemory(ctx, existing.ID, joined, md, now); err != nil {
		return nil, fmt.Errorf("updating consolidated record %s: %w", existing.ID, err)
	}

	err := e.store.AppendHistory(ctx, memory.HistoryEntry{
		MemoryID:  existing.ID,
		OldText:   existing.Text,
		NewText:   joined,
		Event:     memory.EventUpdate,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	if e.primary != nil {
		if _, err := e.primary.Update(ctx, existing.ID, joined, md); err != nil {
			e.log.Warn("could not update consolidated record in primary store",
				"id", existing.ID, "error", err)
		}
	}

	e.log.Info("updated consolidated memory in place",
		"id", existing.ID, "merged", merged)
	return &Result{MemoryID: existing.ID, Merged: merged, Updated: true}, nil
}

func (e *Engine) createConsolidated(ctx context.Context, scope memory.Scope, roleID *int64, joined string, candidates []*memory.Record) (*Result, error) {
	now := time.Now().UTC()
	md := consolidatedMetadata(nil, len(candidates))

	id := ""
	if e.primary != nil {
		// The primary store assigns ids; reuse its id for the mirror row
		// so the two stores agree.
		pid, _, err := e.primary.Create(ctx, joined, md)
		if err != nil {
			e.log.Warn("could not create consolidated record in primary store",
				"error", err)
		} else {
			id = pid
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	err := e.store.AddMemory(ctx, memory.Record{
		ID:           id,
		Text:         joined,
		UserID:       scope.UserID,
		SessionID:    scope.SessionID,
		ActorID:      scope.ActorID,
		Role:         scope.RoleHint,
		RoleID:       roleID,
		Metadata:     md,
		OriginalText: originalTexts(candidates),
		CreatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consolidated record: %w", err)
	}

	err = e.store.AppendHistory(ctx, memory.HistoryEntry{
		MemoryID:  id,
		NewText:   joined,
		Event:     memory.EventAdd,
		ActorID:   scope.ActorID,
		Role:      scope.RoleHint,
		CreatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("created consolidated memory",
		"id", id, "merged", len(candidates))
	return &Result{MemoryID: id, Merged: len(candidates)}, nil
}

func consolidatedMetadata(base map[string]any, merged int) map[string]any {
	md := make(map[string]any, len(base)+2)
	for k, v := range base {
		md[k] = v
	}
	md[marker] = true
	md["consolidated_from"] = merged
	return md
}

// originalTexts preserves the pre-consolidation source texts, one per line.
func originalTexts(candidates []*memory.Record) string {
	texts := make([]string, len(candidates))
	for i, rec := range candidates {
		texts[i] = rec.Text
	}
	return strings.Join(texts, "\n")
}

func sameRole(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func isConsolidated(md map[string]any) bool {
	v, ok := md[marker]
	if !ok {
		return false
	}

	b, ok := v.(bool)
	return ok && b
}
