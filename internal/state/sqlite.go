package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"clipcast/internal/topics"
	"clipcast/pkg/logx"
)

const migrations = `
CREATE TABLE IF NOT EXISTS uploads (
	channel   TEXT NOT NULL,
	at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_channel ON uploads(channel);

CREATE TABLE IF NOT EXISTS topic_usage (
	channel      TEXT NOT NULL,
	topic        TEXT NOT NULL,
	use_count    INTEGER NOT NULL,
	last_used_ms INTEGER NOT NULL,
	PRIMARY KEY (channel, topic)
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) LoadChannel(ctx context.Context, channelID string) (Snapshot, bool, error) {
	var snap Snapshot
	found := false

	rows, err := s.db.QueryContext(ctx,
		`SELECT at_unix_ms FROM uploads WHERE channel = ? ORDER BY at_unix_ms`, channelID)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return Snapshot{}, false, err
		}
		snap.Uploads = append(snap.Uploads, time.UnixMilli(ms))
		found = true
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, err
	}

	urows, err := s.db.QueryContext(ctx,
		`SELECT topic, use_count, last_used_ms FROM topic_usage WHERE channel = ?`, channelID)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer urows.Close()
	for urows.Next() {
		var (
			topic string
			count int
			ms    int64
		)
		if err := urows.Scan(&topic, &count, &ms); err != nil {
			return Snapshot{}, false, err
		}
		if snap.TopicUsage == nil {
			snap.TopicUsage = map[string]topics.Usage{}
		}
		snap.TopicUsage[topic] = topics.Usage{UseCount: count, LastUsedAt: time.UnixMilli(ms)}
		found = true
	}
	if err := urows.Err(); err != nil {
		return Snapshot{}, false, err
	}

	return snap, found, nil
}

func (s *sqliteStore) SaveChannel(ctx context.Context, channelID string, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM uploads WHERE channel = ?`, channelID); err != nil {
		return err
	}
	for _, at := range snap.Uploads {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO uploads (channel, at_unix_ms) VALUES (?, ?)`,
			channelID, at.UnixMilli()); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM topic_usage WHERE channel = ?`, channelID); err != nil {
		return err
	}
	for topic, u := range snap.TopicUsage {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO topic_usage (channel, topic, use_count, last_used_ms) VALUES (?, ?, ?, ?)`,
			channelID, topic, u.UseCount, u.LastUsedAt.UnixMilli()); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
