// Package app wires configuration, persistence, scheduling, and the
// publishing pipeline into one runnable daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clipcast/internal/config"
	"clipcast/internal/dispatch"
	"clipcast/internal/generate"
	"clipcast/internal/notify"
	"clipcast/internal/orchestrator"
	"clipcast/internal/publish"
	"clipcast/internal/quota"
	"clipcast/internal/state"
	"clipcast/internal/topics"
	"clipcast/internal/youtube"
	"clipcast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger

	store  state.Store
	quota  *quota.Tracker
	topics *topics.Selector
	runner *orchestrator.Runner
	disp   *dispatch.Dispatcher
	notif  *notify.Notifier

	// mu guards creds and uploadCfg, touched by both job goroutines and
	// the reload loop.
	mu sync.Mutex

	// credential stores keyed by directory; channels may share one.
	creds map[string]*youtube.CredentialStore

	uploadCfg config.UploadConfig

	// seeded tracks channels whose persisted state was already loaded, so
	// a config reload does not re-seed on top of live counters.
	seeded map[string]bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	loc := time.Local
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
	}

	busyTimeout, err := config.ParseDuration("state.busy_timeout", cfg.State.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := state.Open(state.Config{
		Driver:      cfg.State.Driver,
		Path:        cfg.State.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "state")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("state persistence enabled", logx.String("driver", cfg.State.Driver))
	}

	genTimeout, err := config.ParseDuration("generator.timeout", cfg.Generator.Timeout)
	if err != nil {
		return nil, err
	}
	gen := generate.NewClient(generate.Config{
		BaseURL: cfg.Generator.BaseURL,
		Timeout: genTimeout,
	})

	var notif *notify.Notifier
	if cfg.Notify != nil {
		notif, err = notify.New(notify.Config{
			Token:  cfg.Notify.Token,
			ChatID: cfg.Notify.ChatID,
		}, log.With(logx.String("comp", "notify")))
		if err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
	}

	drain, err := config.ParseDuration("upload.drain_timeout", cfg.Upload.DrainTimeout)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		store:     store,
		quota:     quota.New(loc, log.With(logx.String("comp", "quota"))),
		topics:    topics.New(),
		notif:     notif,
		creds:     map[string]*youtube.CredentialStore{},
		uploadCfg: cfg.Upload,
		seeded:    map[string]bool{},
	}
	a.runner = orchestrator.New(orchestrator.Deps{
		Channel: func(name string) (config.ChannelConfig, bool) {
			return a.cfgm.Current().Channel(name)
		},
		Quota:       a.quota,
		Topics:      a.topics,
		Generator:   gen,
		Credentials: credRouter{a},
		Publisher:   a.publisherFor,
		Store:       store,
	}, log.With(logx.String("comp", "run")))
	a.disp = dispatch.New(dispatch.Config{
		Timezone:     cfg.Timezone,
		DrainTimeout: drain,
	}, log.With(logx.String("comp", "dispatch")))

	if err := a.applyChannels(context.Background(), cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// credRouter resolves a channel to the credential store for its configured
// directory.
type credRouter struct{ a *App }

func (r credRouter) Ensure(ctx context.Context, channelID string) error {
	store, err := r.a.credStoreFor(channelID)
	if err != nil {
		return err
	}
	return store.Ensure(ctx, channelID)
}

func (a *App) credStoreFor(channelID string) (*youtube.CredentialStore, error) {
	ch, ok := a.cfgm.Current().Channel(channelID)
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", channelID)
	}
	dir := ch.CredentialsDir
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.creds[dir]; ok {
		return s, nil
	}
	s := youtube.NewCredentialStore(dir, a.log.With(logx.String("comp", "creds")))
	a.creds[dir] = s
	return s, nil
}

// publisherFor builds the pipeline-over-transport stack for one channel,
// authenticated with the channel's credentials.
func (a *App) publisherFor(ctx context.Context, channelID string) (orchestrator.Publisher, error) {
	store, err := a.credStoreFor(channelID)
	if err != nil {
		return nil, err
	}
	httpClient, err := store.Client(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", channelID, err)
	}

	a.mu.Lock()
	upload := a.uploadCfg
	a.mu.Unlock()
	backoffCap, err := config.ParseDuration("upload.backoff_cap", upload.BackoffCap)
	if err != nil {
		return nil, err
	}
	transport := youtube.NewClient(youtube.Config{
		RatePerSec: upload.RatePerSec,
	}, httpClient, a.log.With(logx.String("comp", "youtube"), logx.String("channel", channelID)))
	pipe := publish.New(transport, publish.Config{
		RetryMax:   upload.RetryMax,
		BackoffCap: backoffCap,
	}, a.log.With(logx.String("comp", "publish"), logx.String("channel", channelID)))
	return pipe, nil
}

// applyChannels registers quota limits, seeds persisted state, and installs
// dispatch triggers for every configured channel. Channels that disappeared
// from the config are unscheduled.
func (a *App) applyChannels(ctx context.Context, cfg *config.Config) error {
	want := map[string]bool{}
	for _, ch := range cfg.Channels {
		want[ch.Name] = true

		iv, err := ch.MinInterval()
		if err != nil {
			return err
		}
		a.quota.Register(ch.Name, quota.Limits{
			DailyLimit:  ch.DailyLimit,
			MinInterval: iv,
		})

		if a.store != nil && !a.seeded[ch.Name] {
			snap, found, err := a.store.LoadChannel(ctx, ch.Name)
			if err != nil {
				return fmt.Errorf("load state for %s: %w", ch.Name, err)
			}
			if found {
				a.quota.Seed(ch.Name, snap.Uploads)
				a.topics.Seed(ch.Name, snap.TopicUsage)
				a.log.Info("state restored",
					logx.String("channel", ch.Name),
					logx.Int("uploads_today", len(snap.Uploads)))
			}
			a.seeded[ch.Name] = true
		}

		name := ch.Name
		if err := a.disp.Schedule(name, ch.Schedule, func(jctx context.Context) error {
			return a.runChannel(jctx, name)
		}); err != nil {
			return err
		}
	}

	for _, job := range a.disp.Jobs() {
		if !want[job.ChannelID] {
			if err := a.disp.Unschedule(job.ChannelID); err != nil {
				a.log.Warn("unschedule removed channel",
					logx.String("channel", job.ChannelID), logx.Err(err))
			}
		}
	}
	return nil
}

func (a *App) runChannel(ctx context.Context, name string) error {
	res := a.runner.Run(ctx, name, orchestrator.Options{})
	if a.notif != nil {
		a.notif.RunResult(res)
	}
	return res.Err
}

// Start installs the scheduler and the config watcher. It returns once
// everything is running; cancellation is driven by Stop.
func (a *App) Start(ctx context.Context) error {
	a.disp.Start(ctx)
	for _, job := range a.disp.Jobs() {
		a.log.Info("channel scheduled",
			logx.String("channel", job.ChannelID),
			logx.String("spec", job.Spec),
			logx.Time("next", job.Next))
	}

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	go a.reloadLoop(ctx)

	if a.notif != nil {
		a.notif.Text(fmt.Sprintf("clipcast up, %d channel(s) scheduled", len(a.disp.Jobs())))
	}
	return nil
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.log.Info("config reloaded", logx.Int("channels", len(cfg.Channels)))
			if err := a.applyChannels(ctx, cfg); err != nil {
				a.log.Error("apply reloaded config", logx.Err(err))
				continue
			}
			a.mu.Lock()
			a.uploadCfg = cfg.Upload
			a.mu.Unlock()
		}
	}
}

// RunOnce performs a single publishing run outside the schedule. An empty
// channel name means the first configured channel.
func (a *App) RunOnce(ctx context.Context, channelID, topic string, dryRun bool) (orchestrator.Result, error) {
	cfg := a.cfgm.Current()
	if channelID == "" {
		if len(cfg.Channels) == 0 {
			return orchestrator.Result{}, errors.New("no channels configured")
		}
		channelID = cfg.Channels[0].Name
	}
	res := a.runner.Run(ctx, channelID, orchestrator.Options{Topic: topic, DryRun: dryRun})
	if a.notif != nil {
		a.notif.RunResult(res)
	}
	return res, res.Err
}

// Channels lists the scheduled jobs with their next activation.
func (a *App) Channels() []dispatch.JobInfo {
	return a.disp.Jobs()
}

// Stop drains in-flight runs, closes persistence, and flushes logs.
func (a *App) Stop(ctx context.Context) error {
	a.disp.Stop(ctx)
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
			a.log.Warn("close state store", logx.Err(err))
		}
	}
	if a.notif != nil {
		a.notif.Text("clipcast shutting down")
	}
	a.log.Close()
	return firstErr
}
