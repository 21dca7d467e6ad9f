package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"gift-floors/models"
)

// PostgresWriter keeps the latest floor table of one source in PostgreSQL.
type PostgresWriter struct {
	db     *sql.DB
	source string

	mu    sync.Mutex
	runID uuid.UUID
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a writer whose rows are tagged with source.
func NewPostgresWriter(dsn, source string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db, source: source, runID: uuid.New()}
	if err := pw.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate() error {
	_, err := pw.db.Exec(`
		CREATE TABLE IF NOT EXISTS gift_floors (
			id               SERIAL PRIMARY KEY,
			run_id           UUID         NOT NULL,
			source           VARCHAR(50)  NOT NULL,
			gift             TEXT         NOT NULL,
			gift_id          TEXT         NOT NULL DEFAULT '',
			model            TEXT         NOT NULL,
			rarity_per_mille TEXT         NOT NULL DEFAULT '',
			price            NUMERIC(20,2),
			sticker_id       TEXT         NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			UNIQUE (source, gift, model)
		);

		CREATE INDEX IF NOT EXISTS idx_gift_floors_price  ON gift_floors(price);
		CREATE INDEX IF NOT EXISTS idx_gift_floors_run_id ON gift_floors(run_id);
	`)
	return err
}

// SetRunID tags subsequent writes with the given run. Invalid ids are rejected.
func (pw *PostgresWriter) SetRunID(runID string) error {
	id, err := uuid.Parse(runID)
	if err != nil {
		return fmt.Errorf("postgres: run id %q: %w", runID, err)
	}
	pw.mu.Lock()
	pw.runID = id
	pw.mu.Unlock()
	return nil
}

// Write replaces this source's rows with rows inside one transaction, so a
// reader sees either the previous checkpoint or this one.
func (pw *PostgresWriter) Write(rows []models.Row) error {
	pw.mu.Lock()
	runID := pw.runID
	pw.mu.Unlock()

	tx, err := pw.db.Begin()
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM gift_floors WHERE source = $1", pw.source); err != nil {
		return fmt.Errorf("postgres: clear %s: %w", pw.source, err)
	}

	const batchSize = 50
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := pw.insertBatch(tx, runID, rows[i:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

const insertColumns = 8

func (pw *PostgresWriter) insertBatch(tx *sql.Tx, runID uuid.UUID, batch []models.Row) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*insertColumns)

	for idx, r := range batch {
		base := idx * insertColumns
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		valueArgs = append(valueArgs,
			runID.String(), pw.source, r.Gift, r.GiftID, r.Model, r.RarityPerMille, nullPrice(r.Price), r.StickerID)
	}

	query := fmt.Sprintf(`
		INSERT INTO gift_floors (run_id, source, gift, gift_id, model, rarity_per_mille, price, sticker_id)
		VALUES %s
		ON CONFLICT (source, gift, model) DO NOTHING
	`, strings.Join(valueStrings, ","))

	if _, err := tx.Exec(query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert batch: %w", err)
	}
	return nil
}

func nullPrice(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *p, Valid: true}
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// ReadRows returns this source's stored rows in output order.
func (pw *PostgresWriter) ReadRows() ([]models.Row, error) {
	return pw.FetchAll(pw.source)
}

// FetchAll retrieves the stored rows of one source, sorted like the snapshot.
func (pw *PostgresWriter) FetchAll(source string) ([]models.Row, error) {
	rows, err := pw.db.Query(`
		SELECT gift, gift_id, model, rarity_per_mille, price, sticker_id
		FROM gift_floors
		WHERE source = $1
		ORDER BY id
	`, source)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		var r models.Row
		var price decimal.NullDecimal
		if err := rows.Scan(&r.Gift, &r.GiftID, &r.Model, &r.RarityPerMille, &price, &r.StickerID); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		if price.Valid {
			p := price.Decimal
			r.Price = &p
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	models.SortRows(out)
	return out, nil
}
