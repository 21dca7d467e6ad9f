package services

import "errors"

var (
	// ErrSourceUnavailable means the catalog or model discovery query could not
	// be completed. From the catalog it aborts the run; from one collection's
	// model discovery it fails that collection only.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrCollectionScanFailed means one collection's scan gave up; sibling collections are unaffected.
	ErrCollectionScanFailed = errors.New("collection scan failed")
)
