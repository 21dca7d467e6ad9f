package storage

import "gift-floors/models"

// RowWriter is the interface any storage backend must satisfy. Write receives
// the full result set each time and replaces whatever the backend held.
type RowWriter interface {
	Write(rows []models.Row) error
	Close() error
}

// RowReader loads a previously written result set.
type RowReader interface {
	ReadRows() ([]models.Row, error)
}
