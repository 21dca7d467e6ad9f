package storage

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"gift-floors/models"
	"gift-floors/utils"
)

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func sampleRows() []models.Row {
	return []models.Row{
		{Gift: "Desk Calendar", GiftID: "7", Model: "Gold", RarityPerMille: "0,5", Price: dec("100"), StickerID: "11"},
		{Gift: "Desk Calendar", GiftID: "7", Model: "Ghost", RarityPerMille: ""},
	}
}

func TestJSONWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "floors.json")
	w, err := NewJSONWriter(path, utils.Discard())
	if err != nil {
		t.Fatalf("NewJSONWriter: %v", err)
	}

	if err := w.Write(sampleRows()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"price": 100`) || !strings.Contains(string(raw), `"price": null`) {
		t.Errorf("snapshot should hold bare numbers and nulls:\n%s", raw)
	}

	rows, err := w.ReadRows()
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 2 || !rows[0].Price.Equal(decimal.NewFromInt(100)) || rows[1].Price != nil {
		t.Errorf("rows = %+v", rows)
	}
}

func TestJSONWriterReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "floors.json")
	w, err := NewJSONWriter(path, utils.Discard())
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Write(sampleRows()); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(sampleRows()[:1]); err != nil {
		t.Fatal(err)
	}
	rows, err := ReadSnapshot(path)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %+v, err = %v", rows, err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir holds %d entries; want only the snapshot", len(entries))
	}
}

func TestJSONWriterEmptyIsArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floors.json")
	w, _ := NewJSONWriter(path, utils.Discard())
	if err := w.Write(nil); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Errorf("got %q; want []", raw)
	}
}

func TestJSONWriterPartialFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "floors.json")
	// a non-empty directory at the target path cannot be replaced by a file
	if err := os.MkdirAll(filepath.Join(path, "blocker"), 0755); err != nil {
		t.Fatal(err)
	}
	w, _ := NewJSONWriter(path, utils.Discard())

	if err := w.Write(sampleRows()); err == nil {
		t.Fatal("expected an error when the target cannot be replaced")
	}
	rows, err := ReadSnapshot(path + PartialSuffix)
	if err != nil || len(rows) != 2 {
		t.Errorf("partial snapshot = %+v, err = %v", rows, err)
	}
}

func TestCSVWriterRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floors.csv")
	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	defer w.Close()

	if err := w.Write(sampleRows()); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(sampleRows()); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %v; want header + 2 rows", records)
	}
	if records[1][4] != "100" || records[2][4] != "" || records[1][3] != "0,5" {
		t.Errorf("records = %v", records)
	}
}

type stubWriter struct {
	writes int
	err    error
}

func (s *stubWriter) Write([]models.Row) error {
	s.writes++
	return s.err
}

func (s *stubWriter) Close() error { return nil }

func TestMultiWriterFansOut(t *testing.T) {
	boom := errors.New("boom")
	a, b := &stubWriter{err: boom}, &stubWriter{}
	m := NewMultiWriter(a, nil, b)

	if m.Len() != 2 {
		t.Errorf("Len = %d; want 2", m.Len())
	}
	if err := m.Write(sampleRows()); !errors.Is(err, boom) {
		t.Errorf("err = %v; want boom", err)
	}
	if a.writes != 1 || b.writes != 1 {
		t.Errorf("writes = %d/%d; a failing backend must not stop the others", a.writes, b.writes)
	}
}

func TestPostgresWriterIntegration(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if testing.Short() || dsn == "" {
		t.Skip("set POSTGRES_TEST_DSN to run against a live database")
	}

	pw, err := NewPostgresWriter(dsn, "test-"+t.Name())
	if err != nil {
		t.Fatalf("NewPostgresWriter: %v", err)
	}
	defer pw.Close()

	if err := pw.Write(sampleRows()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := pw.Write(sampleRows()[:1]); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	rows, err := pw.ReadRows()
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if len(rows) != 1 || rows[0].Model != "Gold" || !rows[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("rows = %+v", rows)
	}
	if err := pw.SetRunID("not-a-uuid"); err == nil {
		t.Error("SetRunID should reject invalid ids")
	}
	_ = pw.Write(nil)
}
