// Package inmemory provides a map-backed primary store driver. Search is a
// naive substring match; there is no embedding model behind it. Used by
// tests and local development.
package inmemory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/primary"
)

// Driver implements primary.Driver with an in-memory map.
type Driver struct {
	mu      sync.RWMutex
	records map[string]*primary.Record
}

// NewDriver creates an empty in-memory primary store.
func NewDriver() *Driver {
	return &Driver{
		records: make(map[string]*primary.Record),
	}
}

// Create stores new text under a fresh uuid and reports an ADD event.
func (d *Driver) Create(_ context.Context, text string, metadata map[string]any) (string, memory.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	d.records[id] = &primary.Record{
		ID:       id,
		Text:     text,
		Metadata: maps.Clone(metadata),
	}

	return id, memory.EventAdd, nil
}

// Update replaces the text of an existing record. Unknown ids and unchanged
// text both report NONE.
func (d *Driver) Update(_ context.Context, id, text string, metadata map[string]any) (memory.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return memory.EventNone, nil
	}

	if rec.Text == text {
		return memory.EventNone, nil
	}

	rec.Text = text
	if metadata != nil {
		rec.Metadata = maps.Clone(metadata)
	}

	return memory.EventUpdate, nil
}

// Delete removes a record. Unknown ids report NONE.
func (d *Driver) Delete(_ context.Context, id string) (memory.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[id]; !ok {
		return memory.EventNone, nil
	}

	delete(d.records, id)
	return memory.EventDelete, nil
}

// Get retrieves one record, or nil when the id is unknown.
func (d *Driver) Get(_ context.Context, id string) (*primary.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[id]
	if !ok {
		return nil, nil
	}

	cp := *rec
	return &cp, nil
}

// List returns every record ordered by id for deterministic iteration.
func (d *Driver) List(_ context.Context) ([]*primary.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*primary.Record, 0, len(d.records))
	for _, rec := range d.records {
		cp := *rec
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Search matches case-insensitive substrings of the query against stored
// text. Every hit scores 1.0; this driver has no notion of distance.
func (d *Driver) Search(_ context.Context, query string, limit int) ([]primary.SearchResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	needle := strings.ToLower(query)

	var results []primary.SearchResult
	for _, rec := range d.records {
		if !strings.Contains(strings.ToLower(rec.Text), needle) {
			continue
		}

		cp := *rec
		results = append(results, primary.SearchResult{Record: cp, Score: 1.0})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}
