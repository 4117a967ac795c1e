// This file implements a PostgreSQL-backed flow store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists flows in PostgreSQL, one JSONB row per flow.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// CreateFlow stores a new flow row.
func (s *PostgresStore) CreateFlow(doc *models.Flow) (*models.Flow, error) {
	prepared, err := prepareCreate(doc)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM flows WHERE id = $1)`, prepared.ID).Scan(&exists); err != nil {
		slog.Error("PostgresStore CreateFlow existence check failed", "error", err, "flowID", prepared.ID)
		return nil, fmt.Errorf("%w: checking flow %s: %v", models.ErrStorage, prepared.ID, err)
	}
	if exists {
		return nil, errFlowExists(prepared.ID)
	}
	document, err := json.Marshal(prepared)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding flow %s: %v", models.ErrStorage, prepared.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO flows (id, title, description, document, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		prepared.ID, prepared.Title, prepared.Description, string(document), prepared.CreatedAt, prepared.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateFlow failed", "error", err, "flowID", prepared.ID)
		return nil, fmt.Errorf("%w: inserting flow %s: %v", models.ErrStorage, prepared.ID, err)
	}
	slog.Debug("PostgresStore CreateFlow succeeded", "flowID", prepared.ID)
	return prepared, nil
}

// GetFlow retrieves one flow row and synthesizes storage metadata from it.
func (s *PostgresStore) GetFlow(id string) (*models.Flow, models.FlowMetadata, error) {
	var document string
	err := s.db.QueryRow(`SELECT document FROM flows WHERE id = $1`, id).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, models.FlowMetadata{}, models.ErrFlowNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetFlow failed", "error", err, "flowID", id)
		return nil, models.FlowMetadata{}, fmt.Errorf("%w: reading flow %s: %v", models.ErrStorage, id, err)
	}
	var doc models.Flow
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		slog.Error("PostgresStore GetFlow: corrupt document", "error", err, "flowID", id)
		return nil, models.FlowMetadata{}, fmt.Errorf("%w: corrupt flow record %s: %v", models.ErrStorage, id, err)
	}
	meta := models.FlowMetadata{Size: int64(len(document)), LastModified: doc.UpdatedAt}
	return &doc, meta, nil
}

// UpdateFlow replaces an existing flow row.
func (s *PostgresStore) UpdateFlow(id string, doc *models.Flow) (*models.Flow, error) {
	existing, _, err := s.GetFlow(id)
	if err != nil {
		return nil, err
	}
	prepared, err := prepareUpdate(id, doc, existing.CreatedAt)
	if err != nil {
		return nil, err
	}
	document, err := json.Marshal(prepared)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding flow %s: %v", models.ErrStorage, id, err)
	}
	_, err = s.db.Exec(`UPDATE flows SET title = $1, description = $2, document = $3, updated_at = $4 WHERE id = $5`,
		prepared.Title, prepared.Description, string(document), prepared.UpdatedAt, id)
	if err != nil {
		slog.Error("PostgresStore UpdateFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("%w: updating flow %s: %v", models.ErrStorage, id, err)
	}
	slog.Debug("PostgresStore UpdateFlow succeeded", "flowID", id)
	return prepared, nil
}

// DeleteFlow removes a flow row.
func (s *PostgresStore) DeleteFlow(id string) error {
	result, err := s.db.Exec(`DELETE FROM flows WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("%w: deleting flow %s: %v", models.ErrStorage, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: deleting flow %s: %v", models.ErrStorage, id, err)
	}
	if affected == 0 {
		return models.ErrFlowNotFound
	}
	slog.Debug("PostgresStore DeleteFlow succeeded", "flowID", id)
	return nil
}

// ListFlows returns summaries from the denormalized columns, newest first.
// Rows that fail to scan are logged and skipped.
func (s *PostgresStore) ListFlows() ([]models.FlowSummary, error) {
	rows, err := s.db.Query(`SELECT id, title, description, created_at FROM flows ORDER BY created_at DESC, id`)
	if err != nil {
		slog.Error("PostgresStore ListFlows query failed", "error", err)
		return nil, fmt.Errorf("%w: listing flows: %v", models.ErrStorage, err)
	}
	defer rows.Close()
	summaries := []models.FlowSummary{}
	for rows.Next() {
		var summary models.FlowSummary
		if err := rows.Scan(&summary.ID, &summary.Title, &summary.Description, &summary.CreatedAt); err != nil {
			slog.Warn("PostgresStore ListFlows: skipping unreadable row", "error", err)
			continue
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListFlows rows iteration failed", "error", err)
		return nil, fmt.Errorf("%w: listing flows: %v", models.ErrStorage, err)
	}
	slog.Debug("PostgresStore ListFlows succeeded", "count", len(summaries))
	return summaries, nil
}

// SearchFlows matches trigger keywords and titles by loading each document.
func (s *PostgresStore) SearchFlows(query string) ([]models.FlowSummary, error) {
	rows, err := s.db.Query(`SELECT document FROM flows ORDER BY created_at DESC, id`)
	if err != nil {
		slog.Error("PostgresStore SearchFlows query failed", "error", err)
		return nil, fmt.Errorf("%w: searching flows: %v", models.ErrStorage, err)
	}
	defer rows.Close()
	var summaries []models.FlowSummary
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			slog.Warn("PostgresStore SearchFlows: skipping unreadable row", "error", err)
			continue
		}
		var doc models.Flow
		if err := json.Unmarshal([]byte(document), &doc); err != nil {
			slog.Warn("PostgresStore SearchFlows: skipping corrupt document", "error", err)
			continue
		}
		if flowMatchesQuery(&doc, query) {
			summaries = append(summaries, summaryOf(&doc, ""))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: searching flows: %v", models.ErrStorage, err)
	}
	return summaries, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
