package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"clipcast/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	d := &Dispatcher{
		cfg: cfg,
		log: log,
		// Five-field specs only (minute hour dom month dow).
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		entries: map[string]*entry{},
	}
	d.loc = d.loadLocation()
	return d
}

func (d *Dispatcher) loadLocation() *time.Location {
	tz := strings.TrimSpace(d.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		d.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins trigger evaluation. Job bodies get a context derived from ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.c != nil {
		return
	}
	d.jobCtx, d.jobCancel = context.WithCancel(ctx)
	d.c = cron.New(cron.WithParser(d.parser), cron.WithLocation(d.loc))
	for _, e := range d.entries {
		d.installLocked(e)
	}
	d.c.Start()
	d.log.Info("dispatcher started",
		logx.String("tz", d.loc.String()),
		logx.Int("channels", len(d.entries)))
}

// Stop stops accepting new firings and waits for in-flight job bodies up to
// the drain timeout (or ctx), then cancels their context.
func (d *Dispatcher) Stop(ctx context.Context) {
	start := time.Now()

	d.mu.Lock()
	c := d.c
	d.c = nil
	cancel := d.jobCancel
	d.jobCancel = nil
	d.mu.Unlock()

	if c == nil {
		return
	}
	c.Stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	drain := time.NewTimer(d.cfg.DrainTimeout)
	defer drain.Stop()
	select {
	case <-done:
	case <-drain.C:
		d.log.Warn("drain timeout expired, cancelling in-flight jobs",
			logx.Duration("timeout", d.cfg.DrainTimeout))
		cancel()
		<-done
	case <-ctx.Done():
		cancel()
		<-done
	}
	if cancel != nil {
		cancel()
	}
	d.log.Info("dispatcher stopped", logx.Duration("took", time.Since(start)))
}

// Schedule installs (or atomically replaces) the channel's recurring trigger.
// A parse failure leaves the channel unscheduled and is reported to the
// caller as a *ScheduleError.
func (d *Dispatcher) Schedule(channelID, spec string, job Job) error {
	if _, err := d.parser.Parse(spec); err != nil {
		return &ScheduleError{ChannelID: channelID, Spec: spec, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e := &entry{
		channelID: channelID,
		name:      fmt.Sprintf("publish for %s", channelID),
		spec:      spec,
		job:       job,
		state:     &runState{},
	}
	if old, ok := d.entries[channelID]; ok {
		// Cancel the old trigger before installing the new one; the run
		// state carries over so an in-flight run still blocks overlap.
		if d.c != nil {
			d.c.Remove(old.entryID)
		}
		e.state = old.state
	}
	d.entries[channelID] = e
	if d.c != nil {
		d.installLocked(e)
	}
	d.log.Info("channel scheduled",
		logx.String("channel", channelID),
		logx.String("spec", spec))
	return nil
}

func (d *Dispatcher) installLocked(e *entry) {
	id, err := d.c.AddFunc(e.spec, func() { d.fire(e) })
	if err != nil {
		// Spec was validated in Schedule; this only trips if the parser
		// configuration diverges.
		d.log.Error("failed installing trigger", logx.String("channel", e.channelID), logx.Err(err))
		return
	}
	e.entryID = id
}

// Unschedule removes the channel's trigger. An in-flight run finishes.
func (d *Dispatcher) Unschedule(channelID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[channelID]
	if !ok {
		return ErrUnknownChannel
	}
	if d.c != nil {
		d.c.Remove(e.entryID)
	}
	delete(d.entries, channelID)
	d.log.Info("channel unscheduled", logx.String("channel", channelID))
	return nil
}

// RunNow invokes the channel's job body immediately, bypassing the trigger.
// Still subject to single-flight: a concurrent run returns ErrAlreadyRunning.
func (d *Dispatcher) RunNow(ctx context.Context, channelID string) error {
	d.mu.Lock()
	e, ok := d.entries[channelID]
	d.mu.Unlock()
	if !ok {
		return ErrUnknownChannel
	}
	if !e.state.tryAcquire() {
		return ErrAlreadyRunning
	}
	defer e.state.release()
	return e.job(ctx)
}

// Jobs returns a snapshot of installed triggers, sorted by channel id.
func (d *Dispatcher) Jobs() []JobInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]JobInfo, 0, len(d.entries))
	for _, e := range d.entries {
		info := JobInfo{ChannelID: e.channelID, Name: e.name, Spec: e.spec}
		if d.c != nil {
			info.Next = d.c.Entry(e.entryID).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// fire runs in the cron entry's own goroutine.
func (d *Dispatcher) fire(e *entry) {
	if !e.state.tryAcquire() {
		d.log.Warn("firing dropped, previous run still in flight",
			logx.String("channel", e.channelID))
		return
	}
	defer e.state.release()

	// The Add must happen under the same lock Stop holds while tearing
	// down, or a firing racing Stop could slip past the drain wait.
	d.mu.Lock()
	ctx := d.jobCtx
	if d.c == nil || ctx == nil || ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job body panicked",
				logx.String("channel", e.channelID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	if err := e.job(ctx); err != nil {
		d.log.Error("job body failed",
			logx.String("channel", e.channelID),
			logx.Duration("took", time.Since(start)),
			logx.Err(err))
		return
	}
	d.log.Debug("job body finished",
		logx.String("channel", e.channelID),
		logx.Duration("took", time.Since(start)))
}
