package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"clipcast/pkg/logx"
)

// fileStore keeps one <channel>.state.json per channel. Writes go through a
// temp file + rename so a crash never leaves a torn snapshot.
type fileStore struct {
	dir string
	log logx.Logger

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("state.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &fileStore{dir: dir, log: log}, nil
}

func (s *fileStore) path(channelID string) string {
	return filepath.Join(s.dir, channelID+".state.json")
}

func (s *fileStore) LoadChannel(_ context.Context, channelID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path(channelID))
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		// A corrupt snapshot should not brick the channel; start fresh.
		s.log.Warn("corrupt state snapshot, ignoring",
			logx.String("channel", channelID), logx.Err(err))
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *fileStore) SaveChannel(_ context.Context, channelID string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(channelID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) Close() error { return nil }
