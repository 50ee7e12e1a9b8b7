// Package manager is the exposed surface of the memory core. It composes
// the sync coordinator and the transcript linker into the session-level
// operations outer layers call: create a memory from a chat session, search
// an agent's memories, and tear a memory down together with its links.
package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/mnemohq/mnemo/pkg/chatlink"
	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/primary"
	"github.com/mnemohq/mnemo/pkg/syncmem"
)

// Summarizer turns a formatted session transcript into memory text. The
// implementation is an external collaborator, typically LLM-backed.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Manager composes the coordinator and linker behind the exposed surface.
type Manager struct {
	mem        *syncmem.Coordinator
	linker     *chatlink.Linker
	summarizer Summarizer
	log        *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithSummarizer enables transcript auto-generation in
// CreateMemoryFromSession.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) {
		m.summarizer = s
	}
}

// WithLogger overrides the default nop logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// New assembles the exposed surface.
func New(mem *syncmem.Coordinator, linker *chatlink.Linker, opts ...Option) *Manager {
	m := &Manager{
		mem:    mem,
		linker: linker,
		log:    logger.Nop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CreateResult reports a session-memory creation, including partial success
// when the memory was stored but linking cleared zero rows.
type CreateResult struct {
	MemoryID    string
	Event       memory.Event
	LinkedCount int64
}

// CreateMemoryFromSession stores a memory for a chat session and links the
// session's transcript rows to it. With an empty memoryText and autoGenerate
// set, the text is produced by the summarizer from the session transcript.
//
// Linking is best-effort once the memory exists: a link failure yields a
// result with LinkedCount zero, not an error.
func (m *Manager) CreateMemoryFromSession(ctx context.Context, agentID, sessionID, userID, memoryText string, autoGenerate bool) (*CreateResult, error) {
	text := memoryText
	md := map[string]any{"agent_id": agentID}

	if text == "" {
		if !autoGenerate {
			return nil, memory.ValidationError{Reason: "memory text is required unless autoGenerate is set"}
		}
		if m.summarizer == nil {
			return nil, memory.ValidationError{Reason: "autoGenerate requires a summarizer"}
		}

		transcript, err := m.linker.GetChatSessionContent(ctx, agentID, sessionID)
		if err != nil {
			return nil, err
		}
		if transcript == "" {
			return nil, memory.ValidationError{Reason: "session has no transcript to summarize"}
		}

		text, err = m.summarizer.Summarize(ctx, transcript)
		if err != nil {
			return nil, err
		}

		// Generated session summaries replace the prior summary for the
		// scope instead of accumulating.
		md["summary"] = true
	}

	scope := memory.Scope{
		UserID:    userID,
		SessionID: sessionID,
		ActorID:   agentID,
	}

	id, event, err := m.mem.Create(ctx, text, scope, md)
	if err != nil {
		return nil, err
	}

	linked, err := m.linker.LinkChatToMemory(ctx, id, agentID, sessionID, nil)
	if err != nil {
		m.log.Warn("memory created but transcript linking failed",
			"memory_id", id, "agent_id", agentID, "session_id", sessionID, "error", err)
		linked = 0
	}

	return &CreateResult{MemoryID: id, Event: event, LinkedCount: linked}, nil
}

// GetMemoriesForSession returns the memories linked to a session's
// transcript rows, newest first.
func (m *Manager) GetMemoriesForSession(ctx context.Context, agentID, sessionID string) ([]*memory.Record, error) {
	return m.linker.GetMemoriesByChatSession(ctx, agentID, sessionID)
}

// SearchMatch is a similarity hit annotated with how many transcript rows
// link to it.
type SearchMatch struct {
	primary.SearchResult
	LinkedChats int
}

// SearchMemoriesForAgent runs a similarity query scoped to one agent and
// annotates each hit with its transcript link count. Results carrying a
// different agent_id in metadata are dropped; results without one pass
// through.
func (m *Manager) SearchMemoriesForAgent(ctx context.Context, agentID, query string, limit int) ([]SearchMatch, error) {
	results, err := m.mem.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	var matches []SearchMatch
	for _, res := range results {
		if owner, ok := res.Metadata["agent_id"].(string); ok && owner != agentID {
			continue
		}

		linked, err := m.linker.GetChatRecordsByMemory(ctx, res.ID)
		if err != nil {
			m.log.Warn("could not count transcript links for search hit",
				"memory_id", res.ID, "error", err)
		}

		matches = append(matches, SearchMatch{
			SearchResult: res,
			LinkedChats:  len(linked),
		})
	}

	return matches, nil
}

// UpdateMemoryAndSync rewrites a memory's text through the coordinator. The
// scope for history attribution is recovered from the relational mirror when
// a mirror row exists.
func (m *Manager) UpdateMemoryAndSync(ctx context.Context, memoryID, newText string) (memory.Event, error) {
	return m.mem.Update(ctx, memoryID, newText, m.recoverScope(ctx, memoryID), nil)
}

// DeleteMemoryAndUnlink clears every transcript link pointing at the memory
// and then deletes it. Returns how many rows were unlinked. Unlink runs
// first so no transcript row ever references a dead record.
func (m *Manager) DeleteMemoryAndUnlink(ctx context.Context, memoryID string) (int64, error) {
	scope := m.recoverScope(ctx, memoryID)

	unlinked, err := m.linker.UnlinkChatRecords(ctx, memoryID)
	if err != nil {
		return 0, err
	}

	if _, err := m.mem.Delete(ctx, memoryID, scope); err != nil {
		return unlinked, err
	}

	return unlinked, nil
}

// AgentSummary aggregates an agent's memory activity across sessions.
type AgentSummary struct {
	AgentID       string
	TotalSessions int
	TotalMemories int64
	TotalChats    int64
	LastActive    time.Time
	Sessions      []chatlink.SessionSummary
}

// GetAgentMemorySummary reports per-session and aggregate stats for one
// agent's linked memories.
func (m *Manager) GetAgentMemorySummary(ctx context.Context, agentID string) (*AgentSummary, error) {
	sessions, err := m.linker.GetSessionsWithMemories(ctx, agentID, 100)
	if err != nil {
		return nil, err
	}

	summary := &AgentSummary{
		AgentID:       agentID,
		TotalSessions: len(sessions),
		Sessions:      sessions,
	}

	for _, s := range sessions {
		summary.TotalMemories += s.MemoryCount
		summary.TotalChats += s.ChatCount
		if s.SessionEnd.After(summary.LastActive) {
			summary.LastActive = s.SessionEnd
		}
	}

	return summary, nil
}

// recoverScope reads scope fields back from the relational mirror. A
// missing mirror row degrades to an empty scope; attribution is best-effort.
func (m *Manager) recoverScope(ctx context.Context, memoryID string) memory.Scope {
	rec, err := m.mem.Store().GetMemory(ctx, memoryID)
	if err != nil {
		return memory.Scope{}
	}

	return memory.Scope{
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		ActorID:   rec.ActorID,
		RoleHint:  rec.Role,
	}
}
