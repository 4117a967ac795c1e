// This file implements an SQLite-backed flow store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists flows in a single-file SQLite database. Each flow is
// one row holding the serialized document; title and description are
// denormalized for listing without parsing every document.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// CreateFlow stores a new flow row.
func (s *SQLiteStore) CreateFlow(doc *models.Flow) (*models.Flow, error) {
	prepared, err := prepareCreate(doc)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM flows WHERE id = ?)`, prepared.ID).Scan(&exists); err != nil {
		slog.Error("SQLiteStore CreateFlow existence check failed", "error", err, "flowID", prepared.ID)
		return nil, fmt.Errorf("%w: checking flow %s: %v", models.ErrStorage, prepared.ID, err)
	}
	if exists {
		return nil, errFlowExists(prepared.ID)
	}
	document, err := json.Marshal(prepared)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding flow %s: %v", models.ErrStorage, prepared.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO flows (id, title, description, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		prepared.ID, prepared.Title, prepared.Description, string(document), prepared.CreatedAt, prepared.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateFlow failed", "error", err, "flowID", prepared.ID)
		return nil, fmt.Errorf("%w: inserting flow %s: %v", models.ErrStorage, prepared.ID, err)
	}
	slog.Debug("SQLiteStore CreateFlow succeeded", "flowID", prepared.ID)
	return prepared, nil
}

// GetFlow retrieves one flow row and synthesizes storage metadata from it.
func (s *SQLiteStore) GetFlow(id string) (*models.Flow, models.FlowMetadata, error) {
	var document string
	err := s.db.QueryRow(`SELECT document FROM flows WHERE id = ?`, id).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, models.FlowMetadata{}, models.ErrFlowNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlow failed", "error", err, "flowID", id)
		return nil, models.FlowMetadata{}, fmt.Errorf("%w: reading flow %s: %v", models.ErrStorage, id, err)
	}
	var doc models.Flow
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		slog.Error("SQLiteStore GetFlow: corrupt document", "error", err, "flowID", id)
		return nil, models.FlowMetadata{}, fmt.Errorf("%w: corrupt flow record %s: %v", models.ErrStorage, id, err)
	}
	meta := models.FlowMetadata{Size: int64(len(document)), LastModified: doc.UpdatedAt}
	return &doc, meta, nil
}

// UpdateFlow replaces an existing flow row.
func (s *SQLiteStore) UpdateFlow(id string, doc *models.Flow) (*models.Flow, error) {
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
	_, err = s.db.Exec(`UPDATE flows SET title = ?, description = ?, document = ?, updated_at = ? WHERE id = ?`,
		prepared.Title, prepared.Description, string(document), prepared.UpdatedAt, id)
	if err != nil {
		slog.Error("SQLiteStore UpdateFlow failed", "error", err, "flowID", id)
		return nil, fmt.Errorf("%w: updating flow %s: %v", models.ErrStorage, id, err)
	}
	slog.Debug("SQLiteStore UpdateFlow succeeded", "flowID", id)
	return prepared, nil
}

// DeleteFlow removes a flow row.
func (s *SQLiteStore) DeleteFlow(id string) error {
	result, err := s.db.Exec(`DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlow failed", "error", err, "flowID", id)
		return fmt.Errorf("%w: deleting flow %s: %v", models.ErrStorage, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: deleting flow %s: %v", models.ErrStorage, id, err)
	}
	if affected == 0 {
		return models.ErrFlowNotFound
	}
	slog.Debug("SQLiteStore DeleteFlow succeeded", "flowID", id)
	return nil
}

// ListFlows returns summaries from the denormalized columns, newest first.
// Rows that fail to scan are logged and skipped.
func (s *SQLiteStore) ListFlows() ([]models.FlowSummary, error) {
	rows, err := s.db.Query(`SELECT id, title, description, created_at FROM flows ORDER BY created_at DESC, id`)
	if err != nil {
		slog.Error("SQLiteStore ListFlows query failed", "error", err)
		return nil, fmt.Errorf("%w: listing flows: %v", models.ErrStorage, err)
	}
	defer rows.Close()
	summaries := []models.FlowSummary{}
	for rows.Next() {
		var summary models.FlowSummary
		if err := rows.Scan(&summary.ID, &summary.Title, &summary.Description, &summary.CreatedAt); err != nil {
			slog.Warn("SQLiteStore ListFlows: skipping unreadable row", "error", err)
			continue
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListFlows rows iteration failed", "error", err)
		return nil, fmt.Errorf("%w: listing flows: %v", models.ErrStorage, err)
	}
	slog.Debug("SQLiteStore ListFlows succeeded", "count", len(summaries))
	return summaries, nil
}

// SearchFlows matches trigger keywords and titles by loading each document;
// the asset set is small enough that a scan is acceptable.
func (s *SQLiteStore) SearchFlows(query string) ([]models.FlowSummary, error) {
	rows, err := s.db.Query(`SELECT document FROM flows ORDER BY created_at DESC, id`)
	if err != nil {
		slog.Error("SQLiteStore SearchFlows query failed", "error", err)
		return nil, fmt.Errorf("%w: searching flows: %v", models.ErrStorage, err)
	}
	defer rows.Close()
	var summaries []models.FlowSummary
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			slog.Warn("SQLiteStore SearchFlows: skipping unreadable row", "error", err)
			continue
		}
		var doc models.Flow
		if err := json.Unmarshal([]byte(document), &doc); err != nil {
			slog.Warn("SQLiteStore SearchFlows: skipping corrupt document", "error", err)
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

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
