package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gift-floors/models"
)

var csvHeader = []string{"gift", "gift_id", "model", "rarity_per_mille", "price", "sticker_id"}

// CSVWriter mirrors the latest result set into a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// Write rewrites the file with the header followed by rows.
// Absent prices are written as empty cells.
func (c *CSVWriter) Write(rows []models.Row) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.file.Truncate(0); err != nil {
		return fmt.Errorf("csv: truncate: %w", err)
	}
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("csv: seek: %w", err)
	}
	if err := c.writer.Write(csvHeader); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	for _, r := range rows {
		price := ""
		if r.Price != nil {
			price = r.Price.String()
		}
		record := []string{r.Gift, r.GiftID, r.Model, r.RarityPerMille, price, r.StickerID}
		if err := c.writer.Write(record); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
