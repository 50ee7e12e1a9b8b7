// Package chroma provides a Chroma-backed primary store driver using the
// REST API. Documents are stored without client-side embeddings; the
// collection's server-side embedding function handles vectorization.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mnemohq/mnemo/pkg/logger"
	"github.com/mnemohq/mnemo/pkg/memory"
	"github.com/mnemohq/mnemo/pkg/primary"
)

// DefaultCollectionName is the collection used when none is configured.
const DefaultCollectionName = "mnemo"

// Config holds connection settings for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g. "http://localhost:8000").
	URL string

	// CollectionName overrides DefaultCollectionName when non-empty.
	CollectionName string
}

// Driver implements primary.Driver against Chroma's v2 REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	log            *slog.Logger
}

// NewDriver connects to Chroma and gets or creates the configured
// collection.
func NewDriver(c Config, log *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("chroma URL is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	name := c.CollectionName
	if name == "" {
		name = DefaultCollectionName
	}

	d := &Driver{
		baseURL:        c.URL,
		collectionName: name,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		log:            log,
	}

	collectionID, err := d.getOrCreateCollection(context.Background())
	if err != nil {
		return nil, fmt.Errorf("getting or creating collection %q: %w", name, err)
	}
	d.collectionID = collectionID

	log.Info("connected to Chroma",
		"url", c.URL, "collection", name, "collection_id", collectionID)

	return d, nil
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s",
		d.baseURL, d.collectionName)

	var col chromaCollection
	status, err := d.do(ctx, http.MethodGet, url, nil, &col)
	if err != nil {
		return "", err
	}
	if status == http.StatusOK {
		return col.ID, nil
	}

	createURL := fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections",
		d.baseURL)
	status, err = d.do(ctx, http.MethodPost, createURL,
		map[string]string{"name": d.collectionName}, &col)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("creating collection: unexpected status %d", status)
	}

	return col.ID, nil
}

// Create upserts one document under a fresh uuid.
func (d *Driver) Create(ctx context.Context, text string, metadata map[string]any) (string, memory.Event, error) {
	id := uuid.NewString()
	if err := d.upsert(ctx, id, text, metadata); err != nil {
		return "", memory.EventNone, err
	}

	return id, memory.EventAdd, nil
}

// Update upserts the new text under an existing id. Unknown ids report NONE.
func (d *Driver) Update(ctx context.Context, id, text string, metadata map[string]any) (memory.Event, error) {
	existing, err := d.Get(ctx, id)
	if err != nil {
		return memory.EventNone, err
	}
	if existing == nil {
		return memory.EventNone, nil
	}

	if err := d.upsert(ctx, id, text, metadata); err != nil {
		return memory.EventNone, err
	}

	return memory.EventUpdate, nil
}

// Delete removes one document.
func (d *Driver) Delete(ctx context.Context, id string) (memory.Event, error) {
	url := d.collectionURL("delete")
	status, err := d.do(ctx, http.MethodPost, url, map[string]any{"ids": []string{id}}, nil)
	if err != nil {
		return memory.EventNone, err
	}
	if status != http.StatusOK {
		return memory.EventNone, fmt.Errorf("deleting document: unexpected status %d", status)
	}

	return memory.EventDelete, nil
}

// Get retrieves one document, or nil when the id is unknown.
func (d *Driver) Get(ctx context.Context, id string) (*primary.Record, error) {
	records, err := d.get(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	return records[0], nil
}

// List returns every document in the collection.
func (d *Driver) List(ctx context.Context) ([]*primary.Record, error) {
	return d.get(ctx, nil)
}

// Search runs a server-side similarity query for the text.
func (d *Driver) Search(ctx context.Context, query string, limit int) ([]primary.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	body := map[string]any{
		"query_texts": []string{query},
		"n_results":   limit,
		"include":     []string{"documents", "metadatas", "distances"},
	}

	var resp struct {
		IDs       [][]string         `json:"ids"`
		Documents [][]string         `json:"documents"`
		Metadatas [][]map[string]any `json:"metadatas"`
		Distances [][]float32        `json:"distances"`
	}

	status, err := d.do(ctx, http.MethodPost, d.collectionURL("query"), body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("querying collection: unexpected status %d", status)
	}

	if len(resp.IDs) == 0 {
		return nil, nil
	}

	results := make([]primary.SearchResult, 0, len(resp.IDs[0]))
	for i, id := range resp.IDs[0] {
		r := primary.SearchResult{}
		r.ID = id
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			r.Text = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			r.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			// Chroma returns distance; invert so higher means closer.
			r.Score = 1 - resp.Distances[0][i]
		}
		results = append(results, r)
	}

	return results, nil
}

// Close is a no-op; the driver holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) upsert(ctx context.Context, id, text string, metadata map[string]any) error {
	body := map[string]any{
		"ids":       []string{id},
		"documents": []string{text},
	}
	if len(metadata) > 0 {
		body["metadatas"] = []map[string]any{metadata}
	}

	status, err := d.do(ctx, http.MethodPost, d.collectionURL("upsert"), body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("upserting document: unexpected status %d", status)
	}

	return nil
}

func (d *Driver) get(ctx context.Context, ids []string) ([]*primary.Record, error) {
	body := map[string]any{
		"include": []string{"documents", "metadatas"},
	}
	if len(ids) > 0 {
		body["ids"] = ids
	}

	var resp struct {
		IDs       []string         `json:"ids"`
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
	}

	status, err := d.do(ctx, http.MethodPost, d.collectionURL("get"), body, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("getting documents: unexpected status %d", status)
	}

	records := make([]*primary.Record, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		rec := &primary.Record{ID: id}
		if i < len(resp.Documents) {
			rec.Text = resp.Documents[i]
		}
		if i < len(resp.Metadatas) {
			rec.Metadata = resp.Metadatas[i]
		}
		records = append(records, rec)
	}

	return records, nil
}

func (d *Driver) collectionURL(op string) string {
	return fmt.Sprintf("%s/api/v2/tenants/default_tenant/databases/default_database/collections/%s/%s",
		d.baseURL, d.collectionID, op)
}

// do sends a JSON request and decodes the response into out when non-nil.
// Returns the HTTP status code; non-2xx statuses are not themselves errors
// so callers can branch on them.
func (d *Driver) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
	}

	return resp.StatusCode, nil
}
