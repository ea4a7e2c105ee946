package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"clipcast/pkg/logx"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

// Scopes required for uploading videos.
var scopes = []string{
	"https://www.googleapis.com/auth/youtube.upload",
	"https://www.googleapis.com/auth/youtube.readonly",
}

// tokenFile mirrors the authorized-user JSON layout written by the
// interactive authorization tooling.
type tokenFile struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenURI     string    `json:"token_uri,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// CredentialStore loads and refreshes per-channel tokens from
// <dir>/<channel>_token.json. Never interactive: a channel with no token
// file fails until the authorization tooling has been run for it.
type CredentialStore struct {
	dir      string
	tokenURL string // overridable for tests
	log      logx.Logger

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

func NewCredentialStore(dir string, log logx.Logger) *CredentialStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CredentialStore{
		dir:      dir,
		tokenURL: googleTokenURL,
		log:      log,
		sources:  map[string]oauth2.TokenSource{},
	}
}

// SetTokenURL overrides the token endpoint. Test hook.
func (s *CredentialStore) SetTokenURL(u string) { s.tokenURL = u }

func (s *CredentialStore) tokenPath(channelID string) string {
	return filepath.Join(s.dir, channelID+"_token.json")
}

// Ensure verifies the channel has a usable credential, refreshing and
// persisting it when expired. Safe to call before every publish.
func (s *CredentialStore) Ensure(ctx context.Context, channelID string) error {
	ts, err := s.tokenSource(ctx, channelID)
	if err != nil {
		return err
	}
	tok, err := ts.Token()
	if err != nil {
		return fmt.Errorf("refresh credential for %s: %w", channelID, err)
	}
	// Persist only when the source actually rotated the token.
	if err := s.persistIfRotated(channelID, tok); err != nil {
		s.log.Warn("failed persisting refreshed token",
			logx.String("channel", channelID), logx.Err(err))
	}
	return nil
}

// Client returns an HTTP client that authenticates as the channel.
func (s *CredentialStore) Client(ctx context.Context, channelID string) (*http.Client, error) {
	ts, err := s.tokenSource(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, ts), nil
}

func (s *CredentialStore) tokenSource(ctx context.Context, channelID string) (oauth2.TokenSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.sources[channelID]; ok {
		return ts, nil
	}

	tf, err := s.readTokenFile(channelID)
	if err != nil {
		return nil, err
	}

	conf := &oauth2.Config{
		ClientID:     tf.ClientID,
		ClientSecret: tf.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: s.tokenURL},
		Scopes:       scopes,
	}
	tok := &oauth2.Token{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		Expiry:       tf.Expiry,
		TokenType:    "Bearer",
	}
	ts := conf.TokenSource(ctx, tok)
	s.sources[channelID] = ts
	return ts, nil
}

func (s *CredentialStore) readTokenFile(channelID string) (*tokenFile, error) {
	path := s.tokenPath(channelID)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no credential for channel %s: %w", channelID, err)
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", path, err)
	}
	if tf.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s has no refresh token", path)
	}
	return &tf, nil
}

func (s *CredentialStore) persistIfRotated(channelID string, tok *oauth2.Token) error {
	tf, err := s.readTokenFile(channelID)
	if err != nil {
		return err
	}
	if tf.AccessToken == tok.AccessToken {
		return nil
	}
	tf.AccessToken = tok.AccessToken
	tf.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		tf.RefreshToken = tok.RefreshToken
	}
	b, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	s.log.Info("credential refreshed", logx.String("channel", channelID))
	return os.WriteFile(s.tokenPath(channelID), b, 0o600)
}
