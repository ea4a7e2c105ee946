package publish

import (
	"context"
	"fmt"
	"os"
	"time"

	"clipcast/pkg/logx"
)

// Config controls retry behavior for a publish attempt.
type Config struct {
	// RetryMax is the ceiling on transient-error retries (default 10).
	RetryMax int

	// BackoffCap bounds the exponential backoff sleep (default 60s).
	BackoffCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryMax <= 0 {
		c.RetryMax = 10
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	return c
}

// ProgressFunc observes per-chunk progress.
type ProgressFunc func(state State, bytesAcked, totalBytes int64)

// Pipeline publishes artifacts through a Transport.
type Pipeline struct {
	transport Transport
	cfg       Config
	log       logx.Logger

	onProgress ProgressFunc

	// sleep suspends only the calling invocation; other channels keep firing.
	// Replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(transport Transport, cfg Config, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		transport: transport,
		cfg:       cfg.withDefaults(),
		log:       log,
		sleep:     sleepCtx,
	}
}

// SetProgressFunc installs a per-chunk observer.
func (p *Pipeline) SetProgressFunc(fn ProgressFunc) { p.onProgress = fn }

// SetSleep overrides the backoff sleep. Test hook.
func (p *Pipeline) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

// Publish transfers the artifact chunk by chunk until the destination
// acknowledges completion, the retry ceiling is hit, or a terminal error
// occurs. The destination's partial session is abandoned on failure.
func (p *Pipeline) Publish(ctx context.Context, artifactPath string, meta Metadata) (Result, error) {
	if fi, err := os.Stat(artifactPath); err != nil || fi.IsDir() {
		return Result{}, fmt.Errorf("%w: %s", ErrArtifactMissing, artifactPath)
	}

	meta = PrepareMetadata(meta)

	sess, err := p.transport.Begin(ctx, artifactPath, meta)
	if err != nil {
		return Result{}, fmt.Errorf("begin upload session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	var (
		offset int64
		retry  int
	)
	state := StateTransferring

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		prog, err := sess.SendChunk(ctx, offset)
		if err == nil {
			offset = prog.BytesAcked
			p.report(state, prog)
			if prog.Done {
				p.report(StateComplete, prog)
				p.log.Info("upload complete",
					logx.String("remote_id", prog.RemoteID),
					logx.Int64("bytes", prog.BytesAcked),
					logx.Int("retries", retry))
				return Result{RemoteID: prog.RemoteID}, nil
			}
			state = StateTransferring
			continue
		}

		if !IsTransient(err) {
			p.report(StateFailed, Progress{BytesAcked: offset})
			return Result{}, err
		}

		retry++
		if retry > p.cfg.RetryMax {
			p.report(StateFailed, Progress{BytesAcked: offset})
			return Result{}, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, retry-1, err)
		}

		delay := backoff(retry, p.cfg.BackoffCap)
		state = StateRetrying
		p.report(state, Progress{BytesAcked: offset})
		p.log.Warn("transient upload error, backing off",
			logx.Err(err),
			logx.Int("retry", retry),
			logx.Int64("offset", offset),
			logx.Duration("delay", delay))
		if err := p.sleep(ctx, delay); err != nil {
			return Result{}, err
		}
	}
}

func (p *Pipeline) report(state State, prog Progress) {
	if p.onProgress != nil {
		p.onProgress(state, prog.BytesAcked, prog.TotalBytes)
	}
}

// backoff returns min(2^retry, cap) seconds.
func backoff(retry int, cap time.Duration) time.Duration {
	// Guard the shift; past 30 the cap has long since won anyway.
	if retry > 30 {
		return cap
	}
	d := time.Duration(1<<uint(retry)) * time.Second
	if d > cap {
		return cap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
