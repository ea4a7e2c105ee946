package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clipcast/pkg/logx"
)

// Job is a channel's job body. The context is cancelled when the drain
// window expires during shutdown.
type Job func(ctx context.Context) error

// Config controls the dispatcher.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Istanbul"

	// DrainTimeout bounds how long Stop waits for in-flight job bodies
	// before cancelling their context (default 30s).
	DrainTimeout time.Duration
}

// ScheduleError reports a rejected cron expression. The channel is left
// unscheduled.
type ScheduleError struct {
	ChannelID string
	Spec      string
	Err       error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("bad schedule %q for channel %s: %v", e.Spec, e.ChannelID, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

var (
	// ErrUnknownChannel is returned by RunNow/Unschedule for channels that
	// were never scheduled.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrAlreadyRunning is returned by RunNow when the channel's job body
	// is already in flight.
	ErrAlreadyRunning = errors.New("job already running")
)

// JobInfo describes one installed trigger.
type JobInfo struct {
	ChannelID string
	Name      string
	Spec      string
	Next      time.Time
}

type entry struct {
	channelID string
	name      string
	spec      string
	job       Job
	entryID   cron.EntryID
	state     *runState
}

// runState gates overlap: at most one run per channel at a time.
type runState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

// Dispatcher owns the cron engine and the per-channel trigger table.
type Dispatcher struct {
	mu sync.Mutex

	cfg Config
	log logx.Logger
	loc *time.Location

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]*entry

	// jobCtx is handed to job bodies; jobCancel fires when the drain
	// window expires.
	jobCtx    context.Context
	jobCancel context.CancelFunc

	wg sync.WaitGroup // in-flight job bodies
}
