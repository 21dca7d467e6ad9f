package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gift-floors/models"
	"gift-floors/utils"
)

// PartialSuffix is appended to the snapshot path when the target file cannot
// be replaced.
const PartialSuffix = ".partial"

// JSONWriter keeps a JSON array snapshot of rows on disk. Every Write goes to
// a temp file in the same directory which is then renamed over the target, so
// readers never see a half-written file. It is safe for concurrent use.
type JSONWriter struct {
	mu     sync.Mutex
	path   string
	logger *utils.Logger
}

// NewJSONWriter prepares the output directory for path.
func NewJSONWriter(path string, logger *utils.Logger) (*JSONWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("json: create output dir: %w", err)
	}
	return &JSONWriter{path: path, logger: logger}, nil
}

// Path returns the snapshot location.
func (j *JSONWriter) Path() string { return j.path }

// Write replaces the snapshot with rows. If the final rename fails the data is
// kept next to the target with PartialSuffix and an error is returned.
func (j *JSONWriter) Write(rows []models.Row) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if rows == nil {
		rows = []models.Row{}
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.path), filepath.Base(j.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("json: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("json: encode %d rows: %w", len(rows), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("json: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("json: close temp file: %w", err)
	}

	if err := os.Rename(tmpName, j.path); err != nil {
		partial := j.path + PartialSuffix
		if perr := os.Rename(tmpName, partial); perr != nil {
			_ = os.Remove(tmpName)
			return fmt.Errorf("json: replace %q: %w", j.path, err)
		}
		j.logger.Warn("[json] Could not replace %s — snapshot kept at %s", j.path, partial)
		return fmt.Errorf("json: replace %q (kept %s): %w", j.path, partial, err)
	}
	return nil
}

// Close is a no-op; every Write is complete on its own.
func (j *JSONWriter) Close() error { return nil }

// ReadRows loads the snapshot at the writer's path.
func (j *JSONWriter) ReadRows() ([]models.Row, error) {
	return ReadSnapshot(j.path)
}

// ReadSnapshot decodes a JSON row array written by JSONWriter.
func ReadSnapshot(path string) ([]models.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("json: open %q: %w", path, err)
	}
	defer f.Close()

	var rows []models.Row
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return nil, fmt.Errorf("json: decode %q: %w", path, err)
	}
	return rows, nil
}
