package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"clipcast/internal/publish"
	"clipcast/pkg/logx"
)

const (
	defaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"
	defaultChunkSize = 1 << 20 // 1 MiB, same as the destination's minimum granularity
)

// defaultRetriable is the server-side transient status set. Revisit if the
// upload protocol changes.
var defaultRetriable = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Config for one channel's upload client.
type Config struct {
	UploadURL      string
	ChunkSize      int64
	RetriableCodes []int // overrides defaultRetriable when non-empty

	// RatePerSec paces outbound API calls (default 2/s).
	RatePerSec int

	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.UploadURL == "" {
		c.UploadURL = defaultUploadURL
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if len(c.RetriableCodes) == 0 {
		c.RetriableCodes = defaultRetriable
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 2
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 2 * time.Minute
	}
	return c
}

// Client implements publish.Transport for one channel. Not shared across
// channels: each channel owns its credential and limiter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logx.Logger

	retriable map[int]bool
}

// NewClient builds a transport using the given HTTP client, which is expected
// to carry the channel's oauth2 token source (see CredentialStore.Client).
func NewClient(cfg Config, httpClient *http.Client, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = cfg.HTTPTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	retriable := make(map[int]bool, len(cfg.RetriableCodes))
	for _, code := range cfg.RetriableCodes {
		retriable[code] = true
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:        log,
		retriable:  retriable,
	}
}

// videoResource is the insert request/response body (snippet + status parts).
type videoResource struct {
	ID      string `json:"id,omitempty"`
	Snippet struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags,omitempty"`
		CategoryID  string   `json:"categoryId,omitempty"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus           string `json:"privacyStatus"`
		SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
	} `json:"status"`
}

// Begin opens a resumable upload session for the artifact.
func (c *Client) Begin(ctx context.Context, artifactPath string, meta publish.Metadata) (publish.Session, error) {
	f, err := os.Open(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if fi.Size() == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("artifact %s is empty", artifactPath)
	}

	var body videoResource
	body.Snippet.Title = meta.Title
	body.Snippet.Description = meta.Description
	body.Snippet.Tags = meta.Tags
	body.Snippet.CategoryID = meta.CategoryID
	body.Status.PrivacyStatus = meta.Privacy

	payload, err := json.Marshal(body)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	u := c.cfg.UploadURL + "?uploadType=resumable&part=snippet,status" +
		"&notifySubscribers=" + strconv.FormatBool(meta.NotifySubscribers)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "video/mp4")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(fi.Size(), 10))

	resp, err := c.do(ctx, req)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = f.Close()
		return nil, c.classify(resp)
	}
	sessionURL := resp.Header.Get("Location")
	if sessionURL == "" {
		_ = f.Close()
		return nil, &publish.TransportError{Code: resp.StatusCode, Message: "session response missing Location header"}
	}

	c.log.Debug("upload session opened",
		logx.Int64("size", fi.Size()),
		logx.String("title", meta.Title))
	return &session{client: c, url: sessionURL, file: f, size: fi.Size()}, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// No status to classify: treat connection-level failures as transient.
		return nil, &publish.TransportError{Message: err.Error(), Transient: true}
	}
	return resp, nil
}

func (c *Client) classify(resp *http.Response) error {
	msg := readErrorBody(resp.Body)
	return &publish.TransportError{
		Code:      resp.StatusCode,
		Message:   msg,
		Transient: c.retriable[resp.StatusCode],
	}
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil {
		return ""
	}
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &apiErr) == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return strings.TrimSpace(string(b))
}

// session is one resumable upload. The file handle is owned by the session
// and released by Close.
type session struct {
	client *Client
	url    string
	file   *os.File
	size   int64
}

// SendChunk uploads one chunk starting at offset and reports the bytes the
// destination has acknowledged so far.
func (s *session) SendChunk(ctx context.Context, offset int64) (publish.Progress, error) {
	end := offset + s.client.cfg.ChunkSize
	if end > s.size {
		end = s.size
	}
	chunk := io.NewSectionReader(s.file, offset, end-offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url, chunk)
	if err != nil {
		return publish.Progress{}, err
	}
	req.ContentLength = end - offset
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end-1, s.size))

	resp, err := s.client.do(ctx, req)
	if err != nil {
		return publish.Progress{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var vr videoResource
		if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
			return publish.Progress{}, fmt.Errorf("decode upload response: %w", err)
		}
		return publish.Progress{BytesAcked: s.size, TotalBytes: s.size, Done: true, RemoteID: vr.ID}, nil
	case 308: // Resume Incomplete
		acked := parseAckedRange(resp.Header.Get("Range"))
		if acked <= offset {
			// Zero forward progress; surface it as transient so the
			// caller backs off instead of resending the same chunk in
			// a tight loop.
			return publish.Progress{}, &publish.TransportError{
				Code:      resp.StatusCode,
				Message:   fmt.Sprintf("acknowledged range did not advance past offset %d", offset),
				Transient: true,
			}
		}
		return publish.Progress{BytesAcked: acked, TotalBytes: s.size}, nil
	default:
		return publish.Progress{}, s.client.classify(resp)
	}
}

func (s *session) Close() error { return s.file.Close() }

// parseAckedRange extracts the acknowledged byte count from a 308 Range
// header, e.g. "bytes=0-524287" -> 524288. No header means nothing acked.
func parseAckedRange(h string) int64 {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0
	}
	h = strings.TrimPrefix(h, "bytes=")
	i := strings.LastIndexByte(h, '-')
	if i < 0 {
		return 0
	}
	last, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil || last < 0 {
		return 0
	}
	return last + 1
}
