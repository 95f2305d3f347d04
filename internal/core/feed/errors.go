package feed

import (
	"errors"
	"fmt"
)

// Kinds of ingestion failure. Match them with errors.Is.
var (
	ErrTransport = errors.New("feed transport failed")
	ErrMalformed = errors.New("malformed feed payload")
	ErrTimeout   = errors.New("feed gateway timed out")
)

var (
	// ErrNotReady is returned by reads while no snapshot has been published.
	ErrNotReady = errors.New("no feed snapshot available")
	ErrNotFound = errors.New("threat not found in snapshot")
)

// IngestionError is the only error the store surfaces. The previously
// served snapshot, if any, is untouched when one is returned.
type IngestionError struct {
	Source string
	Kind   error
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest from %s: %v: %v", e.Source, e.Kind, e.Err)
}

func (e *IngestionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// KindName is the short label used in logs, metrics and notifications.
func (e *IngestionError) KindName() string {
	switch e.Kind {
	case ErrTimeout:
		return "timeout"
	case ErrMalformed:
		return "malformed"
	default:
		return "transport"
	}
}
