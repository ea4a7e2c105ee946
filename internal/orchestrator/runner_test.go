package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"clipcast/internal/config"
	"clipcast/internal/generate"
	"clipcast/internal/publish"
	"clipcast/internal/quota"
	"clipcast/internal/state"
	"clipcast/internal/topics"
	"clipcast/pkg/logx"
)

type fakeGenerator struct {
	resp generate.Response
	err  error
	last generate.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req generate.Request) (generate.Response, error) {
	g.last = req
	return g.resp, g.err
}

type fakeCredentials struct {
	err   error
	calls int
}

func (c *fakeCredentials) Ensure(context.Context, string) error {
	c.calls++
	return c.err
}

type fakePublisher struct {
	result publish.Result
	err    error
	calls  int
	path   string
	meta   publish.Metadata
}

func (p *fakePublisher) Publish(_ context.Context, artifactPath string, meta publish.Metadata) (publish.Result, error) {
	p.calls++
	p.path = artifactPath
	p.meta = meta
	return p.result, p.err
}

type memStore struct {
	saved map[string]state.Snapshot
	err   error
}

func (m *memStore) LoadChannel(context.Context, string) (state.Snapshot, bool, error) {
	return state.Snapshot{}, false, nil
}

func (m *memStore) SaveChannel(_ context.Context, channelID string, snap state.Snapshot) error {
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[string]state.Snapshot{}
	}
	m.saved[channelID] = snap
	return nil
}

func (m *memStore) Close() error { return nil }

type harness struct {
	runner *Runner
	quota  *quota.Tracker
	topics *topics.Selector
	gen    *fakeGenerator
	creds  *fakeCredentials
	pub    *fakePublisher
	store  *memStore
}

func testChannel() config.ChannelConfig {
	return config.ChannelConfig{
		Name:                "main",
		Schedule:            "0 9 * * *",
		Topics:              []string{"stoicism", "discipline"},
		Language:            "en",
		Voice:               "en-US-JennyNeural-Female",
		Aspect:              "9:16",
		ClipDuration:        5,
		ParagraphCount:      2,
		SubtitlePosition:    "top",
		Privacy:             "public",
		CategoryID:          "22",
		Tags:                []string{"shorts"},
		DescriptionTemplate: "Today: {script}",
		DailyLimit:          3,
	}
}

func newHarness(t *testing.T, ch config.ChannelConfig) *harness {
	t.Helper()
	h := &harness{
		quota:  quota.New(time.UTC, logx.Nop()),
		topics: topics.New(),
		gen:    &fakeGenerator{resp: generate.Response{ArtifactPath: "/tmp/out.mp4", Script: "stay steady"}},
		creds:  &fakeCredentials{},
		pub:    &fakePublisher{result: publish.Result{RemoteID: "vid-123"}},
		store:  &memStore{},
	}
	h.topics.SetSeed(1)
	h.quota.Register(ch.Name, quota.Limits{DailyLimit: ch.DailyLimit})
	h.runner = New(Deps{
		Channel: func(name string) (config.ChannelConfig, bool) {
			if name == ch.Name {
				return ch, true
			}
			return config.ChannelConfig{}, false
		},
		Quota:       h.quota,
		Topics:      h.topics,
		Generator:   h.gen,
		Credentials: h.creds,
		Publisher:   func(context.Context, string) (Publisher, error) { return h.pub, nil },
		Store:       h.store,
	}, logx.Nop())
	return h
}

func TestRunHappyPath(t *testing.T) {
	ch := testChannel()
	h := newHarness(t, ch)

	res := h.runner.Run(context.Background(), "main", Options{})
	if res.Err != nil {
		t.Fatalf("run: stage=%s err=%v", res.Stage, res.Err)
	}
	if res.Skipped || res.RemoteID != "vid-123" || res.ArtifactPath != "/tmp/out.mp4" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Topic != "stoicism" && res.Topic != "discipline" {
		t.Fatalf("topic outside pool: %q", res.Topic)
	}
	if h.creds.calls != 1 || h.pub.calls != 1 {
		t.Fatalf("calls: creds=%d pub=%d", h.creds.calls, h.pub.calls)
	}
	if got := h.quota.History("main"); len(got) != 1 {
		t.Fatalf("quota history: %d entries", len(got))
	}
	snap, ok := h.store.saved["main"]
	if !ok {
		t.Fatalf("state not flushed")
	}
	if len(snap.Uploads) != 1 || snap.TopicUsage[res.Topic].UseCount != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestRunMetadataFromChannel(t *testing.T) {
	ch := testChannel()
	h := newHarness(t, ch)

	res := h.runner.Run(context.Background(), "main", Options{Topic: "stoicism"})
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	meta := h.pub.meta
	if !strings.HasSuffix(meta.Title, " #Shorts") || !strings.HasPrefix(meta.Title, "stoicism") {
		t.Fatalf("title: %q", meta.Title)
	}
	if meta.Description != "Today: stay steady" {
		t.Fatalf("description: %q", meta.Description)
	}
	if meta.Privacy != "public" || meta.CategoryID != "22" {
		t.Fatalf("metadata: %+v", meta)
	}
	if h.pub.path != "/tmp/out.mp4" {
		t.Fatalf("artifact path: %q", h.pub.path)
	}
}

func TestRunQuotaDeniedIsSkip(t *testing.T) {
	ch := testChannel()
	ch.DailyLimit = 0
	h := newHarness(t, ch)

	res := h.runner.Run(context.Background(), "main", Options{})
	if !res.Skipped || res.Err != nil {
		t.Fatalf("expected skip, got %+v", res)
	}
	if h.gen.last.Topic != "" {
		t.Fatalf("generation ran despite quota denial")
	}
}

func TestRunExplicitTopicStillQuotaGated(t *testing.T) {
	ch := testChannel()
	ch.DailyLimit = 0
	h := newHarness(t, ch)

	res := h.runner.Run(context.Background(), "main", Options{Topic: "off-pool topic"})
	if !res.Skipped {
		t.Fatalf("explicit topic must not bypass quota: %+v", res)
	}
}

func TestRunExplicitTopicSkipsSelection(t *testing.T) {
	ch := testChannel()
	ch.Topics = nil // selection would fail
	h := newHarness(t, ch)

	res := h.runner.Run(context.Background(), "main", Options{Topic: "manual topic"})
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if res.Topic != "manual topic" || h.gen.last.Topic != "manual topic" {
		t.Fatalf("topic: res=%q gen=%q", res.Topic, h.gen.last.Topic)
	}
}

func TestRunDryRunBypassesQuota(t *testing.T) {
	ch := testChannel()
	ch.DailyLimit = 0 // gate would deny any real run
	h := newHarness(t, ch)

	res := h.runner.Run(context.Background(), "main", Options{DryRun: true})
	if res.Skipped || res.Err != nil {
		t.Fatalf("dry run was quota-gated: %+v", res)
	}
	if res.ArtifactPath != "/tmp/out.mp4" {
		t.Fatalf("generation did not run: %+v", res)
	}
	if h.pub.calls != 0 || len(h.quota.History("main")) != 0 {
		t.Fatalf("dry run produced upload side effects")
	}
}

func TestRunExplicitTopicNotChargedToUsage(t *testing.T) {
	h := newHarness(t, testChannel())

	res := h.runner.Run(context.Background(), "main", Options{Topic: "off-pool topic"})
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if usage := h.topics.UsageSnapshot("main"); len(usage) != 0 {
		t.Fatalf("caller-supplied topic was tracked: %+v", usage)
	}
	if snap := h.store.saved["main"]; len(snap.TopicUsage) != 0 {
		t.Fatalf("stray usage persisted: %+v", snap.TopicUsage)
	}
}

func TestRunDryRunStopsAfterGeneration(t *testing.T) {
	h := newHarness(t, testChannel())

	res := h.runner.Run(context.Background(), "main", Options{DryRun: true})
	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if res.ArtifactPath != "/tmp/out.mp4" || res.RemoteID != "" {
		t.Fatalf("result: %+v", res)
	}
	if h.creds.calls != 0 || h.pub.calls != 0 {
		t.Fatalf("upload side effects in dry run: creds=%d pub=%d", h.creds.calls, h.pub.calls)
	}
	if len(h.quota.History("main")) != 0 {
		t.Fatalf("dry run recorded an upload")
	}
}

func TestRunGenerateFailureChargesTopic(t *testing.T) {
	h := newHarness(t, testChannel())
	h.gen.err = errors.New("render failed")

	res := h.runner.Run(context.Background(), "main", Options{})
	if res.Stage != StageGenerate || res.Err == nil {
		t.Fatalf("expected generate failure, got %+v", res)
	}
	// A failing topic still rotates out.
	if h.topics.UsageSnapshot("main")[res.Topic].UseCount != 1 {
		t.Fatalf("topic usage not recorded on failure")
	}
	if len(h.quota.History("main")) != 0 {
		t.Fatalf("failed run recorded an upload")
	}
}

func TestRunCredentialFailure(t *testing.T) {
	h := newHarness(t, testChannel())
	h.creds.err = errors.New("refresh denied")

	res := h.runner.Run(context.Background(), "main", Options{})
	if res.Stage != StageCredential || res.Err == nil {
		t.Fatalf("expected credential failure, got %+v", res)
	}
	if h.pub.calls != 0 {
		t.Fatalf("publish ran without credentials")
	}
}

func TestRunPublishFailureDoesNotRecord(t *testing.T) {
	h := newHarness(t, testChannel())
	h.pub.err = errors.New("upload failed")

	res := h.runner.Run(context.Background(), "main", Options{})
	if res.Stage != StagePublish || res.Err == nil {
		t.Fatalf("expected publish failure, got %+v", res)
	}
	if len(h.quota.History("main")) != 0 {
		t.Fatalf("failed publish counted against quota")
	}
	if _, ok := h.store.saved["main"]; ok {
		t.Fatalf("failed publish flushed state")
	}
}

func TestRunFlushFailureReportedButUploadCounted(t *testing.T) {
	h := newHarness(t, testChannel())
	h.store.err = errors.New("disk full")

	res := h.runner.Run(context.Background(), "main", Options{})
	if res.Stage != StageRecord || res.Err == nil {
		t.Fatalf("expected record failure, got %+v", res)
	}
	if res.RemoteID != "vid-123" {
		t.Fatalf("remote id lost: %+v", res)
	}
	if len(h.quota.History("main")) != 1 {
		t.Fatalf("upload not counted in memory")
	}
}

func TestRunUnknownChannel(t *testing.T) {
	h := newHarness(t, testChannel())
	res := h.runner.Run(context.Background(), "nope", Options{})
	if res.Err == nil || !errors.Is(res.Err, errUnknownChannel) {
		t.Fatalf("expected unknown channel error, got %+v", res)
	}
}

func TestRunNilStore(t *testing.T) {
	ch := testChannel()
	h := newHarness(t, ch)
	h.runner.deps.Store = nil

	res := h.runner.Run(context.Background(), "main", Options{})
	if res.Err != nil {
		t.Fatalf("run with nil store: %v", res.Err)
	}
}
