// Package orchestrator composes one publishing run: quota gate, topic
// selection, clip generation, credential refresh, upload, and bookkeeping.
//
// Run is the job body the dispatcher fires for each channel. It never
// panics on channel-level failures; every outcome comes back as a Result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clipcast/internal/config"
	"clipcast/internal/generate"
	"clipcast/internal/publish"
	"clipcast/internal/quota"
	"clipcast/internal/state"
	"clipcast/internal/topics"
	"clipcast/pkg/logx"
)

// Stage names the step of a run, for logging and failure reporting.
type Stage string

const (
	StageQuota      Stage = "quota"
	StageTopic      Stage = "topic"
	StageGenerate   Stage = "generate"
	StageCredential Stage = "credential"
	StagePublish    Stage = "publish"
	StageRecord     Stage = "record"
)

// Options tune a single run.
type Options struct {
	// Topic skips selection and uses this topic verbatim. The quota gate
	// still applies.
	Topic string

	// DryRun stops after generation; nothing is uploaded or recorded.
	DryRun bool
}

// Result is the outcome of one run. Err is nil on success or skip; Stage
// names the failing step otherwise.
type Result struct {
	ChannelID    string
	Topic        string
	ArtifactPath string
	RemoteID     string
	Skipped      bool
	Stage        Stage
	Err          error
}

// Generator renders a clip for a topic.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (generate.Response, error)
}

// Credentials refreshes a channel's upload authorization ahead of the
// transfer so a long generation cannot leave us with an expired token.
type Credentials interface {
	Ensure(ctx context.Context, channelID string) error
}

// Publisher transfers an artifact. One per channel; the dispatcher never
// runs a channel concurrently with itself.
type Publisher interface {
	Publish(ctx context.Context, artifactPath string, meta publish.Metadata) (publish.Result, error)
}

// Deps are the collaborators a Runner composes. Store may be nil when
// persistence is disabled.
type Deps struct {
	Channel     func(name string) (config.ChannelConfig, bool)
	Quota       *quota.Tracker
	Topics      *topics.Selector
	Generator   Generator
	Credentials Credentials
	Publisher   func(ctx context.Context, channelID string) (Publisher, error)
	Store       state.Store
}

// Runner executes publishing runs.
type Runner struct {
	deps Deps
	log  logx.Logger
}

var errUnknownChannel = errors.New("unknown channel")

func New(deps Deps, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{deps: deps, log: log}
}

// Run performs one publishing attempt for the channel.
func (r *Runner) Run(ctx context.Context, channelID string, opts Options) Result {
	res := Result{ChannelID: channelID}
	log := r.log.With(logx.String("channel", channelID))

	ch, ok := r.deps.Channel(channelID)
	if !ok {
		res.Stage = StageQuota
		res.Err = fmt.Errorf("%w: %s", errUnknownChannel, channelID)
		return res
	}

	// Dry runs upload nothing and are exempt from the quota gate.
	if !opts.DryRun && !r.deps.Quota.CanProceed(channelID) {
		log.Info("quota gate closed, skipping run",
			logx.Int("remaining_today", r.deps.Quota.Remaining(channelID)))
		res.Skipped = true
		return res
	}

	topic := opts.Topic
	if topic == "" {
		var err error
		topic, err = r.deps.Topics.Select(channelID, ch.Topics)
		if err != nil {
			res.Stage = StageTopic
			res.Err = err
			return res
		}
		// Usage is charged at selection: a topic that keeps failing
		// downstream should still rotate out instead of being picked
		// every run. Caller-supplied topics are not tracked.
		r.deps.Topics.RecordUsage(channelID, topic)
	}
	res.Topic = topic
	log.Info("starting run", logx.String("topic", topic), logx.Bool("dry_run", opts.DryRun))

	start := time.Now()
	gen, err := r.deps.Generator.Generate(ctx, r.buildRequest(ch, topic))
	if err != nil {
		res.Stage = StageGenerate
		res.Err = fmt.Errorf("generate clip: %w", err)
		return res
	}
	res.ArtifactPath = gen.ArtifactPath
	log.Info("clip generated",
		logx.String("artifact", gen.ArtifactPath),
		logx.Duration("took", time.Since(start)))

	if opts.DryRun {
		log.Info("dry run, stopping before upload")
		return res
	}

	if err := r.deps.Credentials.Ensure(ctx, channelID); err != nil {
		res.Stage = StageCredential
		res.Err = fmt.Errorf("refresh credentials: %w", err)
		return res
	}

	pub, err := r.deps.Publisher(ctx, channelID)
	if err != nil {
		res.Stage = StagePublish
		res.Err = err
		return res
	}
	meta := buildMetadata(ch, topic, gen.Script)
	out, err := pub.Publish(ctx, gen.ArtifactPath, meta)
	if err != nil {
		res.Stage = StagePublish
		res.Err = err
		return res
	}
	res.RemoteID = out.RemoteID

	r.deps.Quota.Record(channelID)
	if err := r.flush(ctx, channelID); err != nil {
		// The upload succeeded; a persistence failure only costs history
		// across a restart.
		log.Warn("state flush failed", logx.Err(err))
		res.Stage = StageRecord
		res.Err = err
		return res
	}

	log.Info("run complete",
		logx.String("topic", topic),
		logx.String("remote_id", out.RemoteID))
	return res
}

func (r *Runner) buildRequest(ch config.ChannelConfig, topic string) generate.Request {
	return generate.Request{
		TaskID:           generate.NewTaskID(),
		Topic:            topic,
		Language:         ch.Language,
		Voice:            ch.Voice,
		Aspect:           ch.Aspect,
		ClipDuration:     ch.ClipDuration,
		ParagraphCount:   ch.ParagraphCount,
		SubtitleEnabled:  ch.SubtitleOn(),
		SubtitlePosition: ch.SubtitlePosition,
	}
}

// buildMetadata fills the upload metadata from channel settings. The
// description template may reference {script}, replaced with the generated
// narration.
func buildMetadata(ch config.ChannelConfig, topic, script string) publish.Metadata {
	desc := ch.DescriptionTemplate
	if desc == "" {
		desc = topic
	}
	desc = strings.ReplaceAll(desc, "{script}", script)
	return publish.PrepareMetadata(publish.Metadata{
		Title:             topic,
		Description:       desc,
		Tags:              ch.Tags,
		CategoryID:        ch.CategoryID,
		Privacy:           ch.Privacy,
		NotifySubscribers: ch.NotifySubscribers,
		Shorts:            true,
	})
}

// flush persists the channel's quota history and topic usage.
func (r *Runner) flush(ctx context.Context, channelID string) error {
	if r.deps.Store == nil {
		return nil
	}
	snap := state.Snapshot{
		Uploads:    r.deps.Quota.History(channelID),
		TopicUsage: r.deps.Topics.UsageSnapshot(channelID),
	}
	return r.deps.Store.SaveChannel(ctx, channelID, snap)
}
