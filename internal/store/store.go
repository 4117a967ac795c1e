// Package store provides storage backends for Emergency Assistance flow documents.
//
// Flows are independent aggregates: each is persisted as one individually
// addressable record keyed by its id, and cross-record consistency is never
// required. Three backends implement the same contract: a JSON-file store
// (one file per flow), SQLite, and PostgreSQL, plus an in-memory store for
// tests.
package store

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

// Store is the flow persistence contract. Writes are atomic per record: a
// reader never observes a partially written document. List tolerates and
// skips individually corrupt records instead of failing the whole listing.
type Store interface {
	CreateFlow(doc *models.Flow) (*models.Flow, error)
	GetFlow(id string) (*models.Flow, models.FlowMetadata, error)
	UpdateFlow(id string, doc *models.Flow) (*models.Flow, error)
	DeleteFlow(id string) error
	ListFlows() ([]models.FlowSummary, error)
	SearchFlows(query string) ([]models.FlowSummary, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN selects a database backend: a postgres:// URL or an SQLite file path.
	DSN string
	// Dir is the flow directory for the file-backed store.
	Dir string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database DSN for the SQLite and Postgres stores.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDir sets the flow directory for the file-backed store.
func WithDir(dir string) Option {
	return func(o *Opts) { o.Dir = dir }
}

// DSNType identifies which backend a DSN selects.
type DSNType string

const (
	// DSNTypePostgres selects the PostgreSQL backend.
	DSNTypePostgres DSNType = "postgres"
	// DSNTypeSQLite selects the SQLite backend.
	DSNTypeSQLite DSNType = "sqlite"
	// DSNTypeFile selects the JSON-file backend (empty DSN).
	DSNTypeFile DSNType = "file"
)

// DetectDSNType classifies a DSN string. Postgres URLs and key=value
// connection strings go to Postgres; any other non-empty value is treated as
// an SQLite file path; an empty DSN selects the file store.
func DetectDSNType(dsn string) DSNType {
	switch {
	case dsn == "":
		return DSNTypeFile
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// InMemoryStore is a map-backed Store used by tests and local development.
type InMemoryStore struct {
	mu    sync.RWMutex
	flows map[string]*models.Flow
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{flows: make(map[string]*models.Flow)}
}

// CreateFlow stores a new flow document.
func (s *InMemoryStore) CreateFlow(doc *models.Flow) (*models.Flow, error) {
	prepared, err := prepareCreate(doc)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flows[prepared.ID]; exists {
		return nil, errFlowExists(prepared.ID)
	}
	s.flows[prepared.ID] = prepared
	return cloneFlow(prepared), nil
}

// GetFlow retrieves a flow document by id.
func (s *InMemoryStore) GetFlow(id string) (*models.Flow, models.FlowMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.flows[id]
	if !ok {
		return nil, models.FlowMetadata{}, models.ErrFlowNotFound
	}
	return cloneFlow(doc), models.FlowMetadata{LastModified: doc.UpdatedAt}, nil
}

// UpdateFlow replaces an existing flow document.
func (s *InMemoryStore) UpdateFlow(id string, doc *models.Flow) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.flows[id]
	if !ok {
		return nil, models.ErrFlowNotFound
	}
	prepared, err := prepareUpdate(id, doc, existing.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.flows[id] = prepared
	return cloneFlow(prepared), nil
}

// DeleteFlow removes a flow document.
func (s *InMemoryStore) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return models.ErrFlowNotFound
	}
	delete(s.flows, id)
	return nil
}

// ListFlows returns summaries of all stored flows, newest first.
func (s *InMemoryStore) ListFlows() ([]models.FlowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]models.FlowSummary, 0, len(s.flows))
	for _, doc := range s.flows {
		summaries = append(summaries, summaryOf(doc, ""))
	}
	sortSummaries(summaries)
	return summaries, nil
}

// SearchFlows returns summaries of flows whose trigger keywords or title
// match the query.
func (s *InMemoryStore) SearchFlows(query string) ([]models.FlowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var summaries []models.FlowSummary
	for _, doc := range s.flows {
		if flowMatchesQuery(doc, query) {
			summaries = append(summaries, summaryOf(doc, ""))
		}
	}
	sortSummaries(summaries)
	return summaries, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	slog.Debug("InMemoryStore.Close: nothing to release")
	return nil
}

// sortSummaries orders summaries newest first, breaking ties by id so
// listings are stable.
func sortSummaries(summaries []models.FlowSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
}
