package publish

import (
	"context"
	"errors"
	"fmt"
)

// Metadata describes the artifact being published.
type Metadata struct {
	Title             string
	Description       string
	Tags              []string
	CategoryID        string
	Privacy           string
	NotifySubscribers bool
	Shorts            bool
}

// Progress is one transport acknowledgment.
type Progress struct {
	BytesAcked int64
	TotalBytes int64
	Done       bool
	RemoteID   string // set when Done
}

// Session is one upload session at the destination. The session owns the
// artifact handle; Close releases it. An abandoned session is not cancelled
// remotely, the destination expires it on its own.
type Session interface {
	SendChunk(ctx context.Context, offset int64) (Progress, error)
	Close() error
}

// Transport initiates upload sessions. Implementations classify their
// failures as transient or terminal via TransportError.
type Transport interface {
	Begin(ctx context.Context, artifactPath string, meta Metadata) (Session, error)
}

// Result of a completed publish.
type Result struct {
	RemoteID string
}

// TransportError is a failed transport exchange. Transient errors are
// retried by the pipeline; everything else is terminal.
type TransportError struct {
	Code      int
	Message   string
	Transient bool
}

func (e *TransportError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transport error (status %d)", e.Code)
	}
	return fmt.Sprintf("transport error (status %d): %s", e.Code, e.Message)
}

// IsTransient reports whether err is a retriable transport failure.
func IsTransient(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Transient
}

var (
	// ErrArtifactMissing means the artifact path did not resolve to a file.
	ErrArtifactMissing = errors.New("artifact not found")

	// ErrRetriesExhausted means the retry ceiling was hit on transient errors.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// State of an in-flight publish attempt. Exposed through the progress
// callback and log lines only; attempts are not persisted.
type State int

const (
	StateIdle State = iota
	StateTransferring
	StateRetrying
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransferring:
		return "transferring"
	case StateRetrying:
		return "retrying"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
