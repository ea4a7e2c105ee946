package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipcast/internal/publish"
	"clipcast/pkg/logx"
)

func writeArtifact(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func TestResumableUploadFlow(t *testing.T) {
	const size = 3000
	var gotRanges []string

	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("uploadType") != "resumable" {
			t.Errorf("missing uploadType=resumable")
		}
		if got := r.Header.Get("X-Upload-Content-Length"); got != "3000" {
			t.Errorf("content length header = %q", got)
		}
		var vr videoResource
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			t.Errorf("decode metadata: %v", err)
		}
		if vr.Snippet.Title == "" || vr.Status.PrivacyStatus != "public" {
			t.Errorf("unexpected metadata: %+v", vr)
		}
		w.Header().Set("Location", "http://"+r.Host+"/session/abc")
		w.WriteHeader(http.StatusOK)
	})
	chunkNo := 0
	mux.HandleFunc("/session/abc", func(w http.ResponseWriter, r *http.Request) {
		gotRanges = append(gotRanges, r.Header.Get("Content-Range"))
		chunkNo++
		if chunkNo < 3 {
			w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", chunkNo*1024-1))
			w.WriteHeader(308)
			return
		}
		_ = json.NewEncoder(w).Encode(videoResource{ID: "vid42"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{
		UploadURL:  srv.URL + "/upload",
		ChunkSize:  1024,
		RatePerSec: 1000,
	}, srv.Client(), logx.Nop())

	sess, err := c.Begin(context.Background(), writeArtifact(t, size), publish.Metadata{
		Title: "a clip", Privacy: "public",
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer sess.Close()

	var offset int64
	for {
		prog, err := sess.SendChunk(context.Background(), offset)
		if err != nil {
			t.Fatalf("send chunk at %d: %v", offset, err)
		}
		if prog.Done {
			if prog.RemoteID != "vid42" {
				t.Fatalf("remote id = %q", prog.RemoteID)
			}
			break
		}
		offset = prog.BytesAcked
	}

	want := []string{
		"bytes 0-1023/3000",
		"bytes 1024-2047/3000",
		"bytes 2048-2999/3000",
	}
	for i, w := range want {
		if gotRanges[i] != w {
			t.Fatalf("chunk %d range = %q, want %q", i, gotRanges[i], w)
		}
	}
}

func TestBeginRejectsEmptyArtifact(t *testing.T) {
	c := NewClient(Config{UploadURL: "http://invalid.test/upload"}, nil, logx.Nop())
	_, err := c.Begin(context.Background(), writeArtifact(t, 0), publish.Metadata{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("empty artifact accepted: %v", err)
	}
	if publish.IsTransient(err) {
		t.Fatalf("empty artifact must be terminal: %v", err)
	}
}

func TestSendChunkStalledAckIsTransient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://"+r.Host+"/session/stall")
	})
	mux.HandleFunc("/session/stall", func(w http.ResponseWriter, _ *http.Request) {
		// Acknowledge the first KiB forever, regardless of what was sent.
		w.Header().Set("Range", "bytes=0-1023")
		w.WriteHeader(308)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{
		UploadURL:  srv.URL + "/upload",
		ChunkSize:  1024,
		RatePerSec: 1000,
	}, srv.Client(), logx.Nop())

	sess, err := c.Begin(context.Background(), writeArtifact(t, 3000), publish.Metadata{Title: "t"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer sess.Close()

	prog, err := sess.SendChunk(context.Background(), 0)
	if err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if prog.BytesAcked != 1024 {
		t.Fatalf("acked = %d, want 1024", prog.BytesAcked)
	}

	// Same ack again: no forward progress must come back as a retriable
	// error, not a progress report.
	if _, err := sess.SendChunk(context.Background(), prog.BytesAcked); !publish.IsTransient(err) {
		t.Fatalf("stalled ack: got %v, want transient error", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusForbidden, false},
		{http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		status := tc.status
		mux := http.NewServeMux()
		mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "http://"+r.Host+"/session/x")
		})
		mux.HandleFunc("/session/x", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		})
		srv := httptest.NewServer(mux)

		c := NewClient(Config{UploadURL: srv.URL + "/upload", RatePerSec: 1000}, srv.Client(), logx.Nop())
		sess, err := c.Begin(context.Background(), writeArtifact(t, 10), publish.Metadata{})
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		_, err = sess.SendChunk(context.Background(), 0)
		var te *publish.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("status %d: expected TransportError, got %v", status, err)
		}
		if te.Transient != tc.transient {
			t.Fatalf("status %d: transient = %v, want %v", status, te.Transient, tc.transient)
		}
		if !strings.Contains(te.Message, "nope") {
			t.Fatalf("status %d: error body not surfaced: %q", status, te.Message)
		}
		_ = sess.Close()
		srv.Close()
	}
}

func TestParseAckedRange(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"bytes=0-1023", 1024},
		{"bytes=0-0", 1},
		{"garbage", 0},
	}
	for _, tc := range cases {
		if got := parseAckedRange(tc.in); got != tc.want {
			t.Fatalf("parseAckedRange(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCredentialStoreRefresh(t *testing.T) {
	dir := t.TempDir()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("refresh_token") != "refresh-1" {
			t.Errorf("refresh token = %q", r.Form.Get("refresh_token"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	tf := tokenFile{
		ClientID:     "cid",
		ClientSecret: "secret",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}
	b, _ := json.Marshal(tf)
	if err := os.WriteFile(filepath.Join(dir, "main_token.json"), b, 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	s := NewCredentialStore(dir, logx.Nop())
	s.SetTokenURL(tokenSrv.URL)

	if err := s.Ensure(context.Background(), "main"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	got, err := s.readTokenFile("main")
	if err != nil {
		t.Fatalf("re-read token: %v", err)
	}
	if got.AccessToken != "fresh" {
		t.Fatalf("refreshed token not persisted: %q", got.AccessToken)
	}
	if got.RefreshToken != "refresh-1" {
		t.Fatalf("refresh token must survive: %q", got.RefreshToken)
	}
}

func TestCredentialStoreMissingToken(t *testing.T) {
	s := NewCredentialStore(t.TempDir(), logx.Nop())
	if err := s.Ensure(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for missing token file")
	}
}
