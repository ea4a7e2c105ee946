package quota

import (
	"sync"
	"time"

	"clipcast/pkg/logx"
)

// Limits configures a single channel's quota.
//
// DailyLimit == 0 always denies. MinInterval == 0 disables the gap check.
type Limits struct {
	DailyLimit  int
	MinInterval time.Duration
}

type channelState struct {
	limits  Limits
	uploads []time.Time // ascending; pruned to the current local day on read
}

// Tracker keeps per-channel upload history.
//
// All methods are safe for concurrent use, though in practice each channel's
// state is only touched by that channel's own (single-flight) invocation.
type Tracker struct {
	mu sync.Mutex

	loc      *time.Location
	now      func() time.Time
	log      logx.Logger
	channels map[string]*channelState
}

func New(loc *time.Location, log logx.Logger) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		loc:      loc,
		now:      time.Now,
		log:      log,
		channels: map[string]*channelState{},
	}
}

// SetNow overrides the clock. Test hook.
func (t *Tracker) SetNow(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Register installs (or replaces) a channel's limits. History is kept across
// re-registration so a config reload does not reset quotas.
func (t *Tracker) Register(channelID string, limits Limits) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.channels[channelID]; ok {
		st.limits = limits
		return
	}
	t.channels[channelID] = &channelState{limits: limits}
}

// Seed replaces a channel's upload history, typically from the state store
// at startup. Unknown channels are ignored (their config is gone).
func (t *Tracker) Seed(channelID string, uploads []time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.channels[channelID]
	if !ok {
		return
	}
	st.uploads = append([]time.Time(nil), uploads...)
}

// CanProceed reports whether the channel may start a new upload now.
// Unknown channels deny (fail closed).
func (t *Tracker) CanProceed(channelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.channels[channelID]
	if !ok {
		t.log.Warn("quota check for unknown channel", logx.String("channel", channelID))
		return false
	}

	now := t.now()
	t.pruneLocked(st, now)

	if len(st.uploads) >= st.limits.DailyLimit {
		t.log.Warn("daily limit reached",
			logx.String("channel", channelID),
			logx.Int("uploads", len(st.uploads)),
			logx.Int("limit", st.limits.DailyLimit))
		return false
	}

	if st.limits.MinInterval > 0 && len(st.uploads) > 0 {
		last := st.uploads[len(st.uploads)-1]
		since := now.Sub(last)
		if since < st.limits.MinInterval {
			t.log.Warn("upload interval not met",
				logx.String("channel", channelID),
				logx.Duration("since_last", since),
				logx.Duration("min_interval", st.limits.MinInterval))
			return false
		}
	}

	return true
}

// Record appends "now" to the channel's history. Call only after a confirmed
// successful publish; recording earlier would desynchronize quota from actual
// outbound traffic.
func (t *Tracker) Record(channelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.channels[channelID]
	if !ok {
		return
	}
	st.uploads = append(st.uploads, t.now())
}

// Remaining returns how many uploads the channel has left today.
func (t *Tracker) Remaining(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.channels[channelID]
	if !ok {
		return 0
	}
	t.pruneLocked(st, t.now())
	rem := st.limits.DailyLimit - len(st.uploads)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// History returns a copy of the channel's pruned upload timestamps, for
// persistence.
func (t *Tracker) History(channelID string) []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.channels[channelID]
	if !ok {
		return nil
	}
	t.pruneLocked(st, t.now())
	return append([]time.Time(nil), st.uploads...)
}

func (t *Tracker) pruneLocked(st *channelState, now time.Time) {
	local := now.In(t.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.loc)
	i := 0
	for i < len(st.uploads) && st.uploads[i].Before(dayStart) {
		i++
	}
	if i > 0 {
		st.uploads = append([]time.Time(nil), st.uploads[i:]...)
	}
}
