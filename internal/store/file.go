// This file implements the JSON-file flow store: one <id>.json record per
// flow under a single directory, matching how flows are authored and
// exchanged by the editor tooling.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Satoshi-Niina/Emergency-Assistance-sub007/internal/models"
)

// Constants for file store configuration
const (
	// DefaultDirPermissions defines the default permissions for flow directories
	DefaultDirPermissions = 0755
	// DefaultFilePermissions defines the default permissions for flow records
	DefaultFilePermissions = 0644
)

// flowIDPattern constrains record ids to names that are safe as file names.
var flowIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FileStore persists each flow as an independent JSON file. Writes go
// through a temp file plus rename so a reader never observes a partially
// written record. Reads always hit the file system; there is deliberately no
// cache, because editors poll immediately after writes and must observe them.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed flow store rooted at the configured
// directory, creating it if needed.
func NewFileStore(opts ...Option) (*FileStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dir == "" {
		slog.Error("FileStore directory not set")
		return nil, fmt.Errorf("flow directory not set")
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create flow directory", "error", err, "dir", cfg.Dir)
		return nil, fmt.Errorf("failed to create flow directory: %w", err)
	}
	slog.Debug("FileStore.NewFileStore: flow directory verified/created", "dir", cfg.Dir)
	return &FileStore{dir: cfg.Dir}, nil
}

// CreateFlow stores a new flow document as <id>.json.
func (s *FileStore) CreateFlow(doc *models.Flow) (*models.Flow, error) {
	prepared, err := prepareCreate(doc)
	if err != nil {
		return nil, err
	}
	path, err := s.recordPath(prepared.ID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		return nil, errFlowExists(prepared.ID)
	}
	if err := s.writeRecord(path, prepared); err != nil {
		return nil, err
	}
	slog.Debug("FileStore.CreateFlow: flow stored", "flowID", prepared.ID, "path", path)
	return prepared, nil
}

// GetFlow reads one flow record and its storage metadata.
func (s *FileStore) GetFlow(id string) (*models.Flow, models.FlowMetadata, error) {
	path, err := s.recordPath(id)
	if err != nil {
		return nil, models.FlowMetadata{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.FlowMetadata{}, models.ErrFlowNotFound
		}
		slog.Error("FileStore.GetFlow: read failed", "flowID", id, "error", err)
		return nil, models.FlowMetadata{}, fmt.Errorf("%w: reading flow %s: %v", models.ErrStorage, id, err)
	}
	var doc models.Flow
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Error("FileStore.GetFlow: corrupt record", "flowID", id, "error", err)
		return nil, models.FlowMetadata{}, fmt.Errorf("%w: corrupt flow record %s: %v", models.ErrStorage, id, err)
	}
	meta := models.FlowMetadata{Size: int64(len(data))}
	if info, err := os.Stat(path); err == nil {
		meta.LastModified = info.ModTime().UTC()
	}
	return &doc, meta, nil
}

// UpdateFlow replaces an existing flow record.
func (s *FileStore) UpdateFlow(id string, doc *models.Flow) (*models.Flow, error) {
	existing, _, err := s.GetFlow(id)
	if err != nil {
		return nil, err
	}
	prepared, err := prepareUpdate(id, doc, existing.CreatedAt)
	if err != nil {
		return nil, err
	}
	path, err := s.recordPath(id)
	if err != nil {
		return nil, err
	}
	if err := s.writeRecord(path, prepared); err != nil {
		return nil, err
	}
	slog.Debug("FileStore.UpdateFlow: flow replaced", "flowID", id)
	return prepared, nil
}

// DeleteFlow removes a flow record.
func (s *FileStore) DeleteFlow(id string) error {
	path, err := s.recordPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return models.ErrFlowNotFound
		}
		slog.Error("FileStore.DeleteFlow: remove failed", "flowID", id, "error", err)
		return fmt.Errorf("%w: deleting flow %s: %v", models.ErrStorage, id, err)
	}
	slog.Debug("FileStore.DeleteFlow: flow removed", "flowID", id)
	return nil
}

// ListFlows returns summaries for every readable record, newest first.
// Individually corrupt records are logged and skipped, never fatal.
func (s *FileStore) ListFlows() ([]models.FlowSummary, error) {
	docs, files, err := s.readAll()
	if err != nil {
		return nil, err
	}
	summaries := make([]models.FlowSummary, 0, len(docs))
	for i := range docs {
		summaries = append(summaries, summaryOf(&docs[i], files[i]))
	}
	sortSummaries(summaries)
	return summaries, nil
}

// SearchFlows returns summaries of flows whose trigger keywords or title
// match the query.
func (s *FileStore) SearchFlows(query string) ([]models.FlowSummary, error) {
	docs, files, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var summaries []models.FlowSummary
	for i := range docs {
		if flowMatchesQuery(&docs[i], query) {
			summaries = append(summaries, summaryOf(&docs[i], files[i]))
		}
	}
	sortSummaries(summaries)
	return summaries, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	slog.Debug("FileStore.Close: nothing to release")
	return nil
}

// readAll loads every parseable record in the directory along with its file
// name, skipping corrupt ones.
func (s *FileStore) readAll() ([]models.Flow, []string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Error("FileStore.readAll: directory read failed", "dir", s.dir, "error", err)
		return nil, nil, fmt.Errorf("%w: reading flow directory: %v", models.ErrStorage, err)
	}
	var docs []models.Flow
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			slog.Warn("FileStore.readAll: skipping unreadable record", "file", entry.Name(), "error", err)
			continue
		}
		var doc models.Flow
		if err := json.Unmarshal(data, &doc); err != nil {
			slog.Warn("FileStore.readAll: skipping corrupt record", "file", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, doc)
		files = append(files, entry.Name())
	}
	return docs, files, nil
}

// writeRecord atomically persists one record: marshal, write to a temp file
// in the same directory, then rename over the final path.
func (s *FileStore) writeRecord(path string, doc *models.Flow) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding flow %s: %v", models.ErrStorage, doc.ID, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".flow-*.tmp")
	if err != nil {
		slog.Error("FileStore.writeRecord: temp file creation failed", "error", err)
		return fmt.Errorf("%w: creating temp record: %v", models.ErrStorage, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing flow %s: %v", models.ErrStorage, doc.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp record: %v", models.ErrStorage, err)
	}
	if err := os.Chmod(tmpName, DefaultFilePermissions); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: setting record permissions: %v", models.ErrStorage, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		slog.Error("FileStore.writeRecord: rename failed", "flowID", doc.ID, "error", err)
		return fmt.Errorf("%w: storing flow %s: %v", models.ErrStorage, doc.ID, err)
	}
	return nil
}

// recordPath maps a flow id to its record path, rejecting ids that could
// escape the flow directory.
func (s *FileStore) recordPath(id string) (string, error) {
	if !flowIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: invalid flow id %q", models.ErrValidation, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}
