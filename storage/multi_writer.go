package storage

import (
	"errors"

	"gift-floors/models"
)

// MultiWriter fans every Write out to several backends. A failing backend
// does not stop the others; all errors are returned joined.
type MultiWriter struct {
	writers []RowWriter
}

// NewMultiWriter ignores nil writers.
func NewMultiWriter(writers ...RowWriter) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// Len reports how many backends are attached.
func (m *MultiWriter) Len() int { return len(m.writers) }

func (m *MultiWriter) Write(rows []models.Row) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Write(rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
