package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clipcast/internal/topics"
	"clipcast/pkg/logx"
)

// Config selects the persistence driver.
//
// Driver values:
//   - "" or "none": in-memory only, restart resets quota/topic history
//   - "file":       one JSON snapshot per channel under Path (a directory)
//   - "sqlite":     SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Snapshot is one channel's persisted state.
type Snapshot struct {
	Uploads    []time.Time             `json:"uploads"`
	TopicUsage map[string]topics.Usage `json:"topic_usage,omitempty"`
}

// Store persists channel snapshots. Implementations are safe for concurrent
// use; in practice each channel is only written by its own invocation.
type Store interface {
	LoadChannel(ctx context.Context, channelID string) (Snapshot, bool, error)
	SaveChannel(ctx context.Context, channelID string, snap Snapshot) error
	Close() error
}

// Open builds the configured store. The "none" driver returns (nil, nil);
// callers treat a nil Store as "no persistence".
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}
}
