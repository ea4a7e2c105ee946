package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"
)

// cronParser mirrors the dispatcher's five-field parser so bad schedules are
// rejected at load time, not at registration time.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var validPrivacy = map[string]bool{"public": true, "unlisted": true, "private": true}

// Load reads, strictly decodes and validates the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(path, b)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw config bytes. Unknown fields and trailing data are
// rejected.
func Parse(path string, raw []byte) (*Config, error) {
	jb, err := yamlToJSON(path, raw)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Language == "" {
			ch.Language = DefaultLanguage
		}
		if ch.Voice == "" {
			ch.Voice = DefaultVoice
		}
		if ch.Aspect == "" {
			ch.Aspect = DefaultAspect
		}
		if ch.ClipDuration == 0 {
			ch.ClipDuration = DefaultClipDuration
		}
		if ch.ParagraphCount == 0 {
			ch.ParagraphCount = DefaultParagraphCount
		}
		if ch.SubtitlePosition == "" {
			ch.SubtitlePosition = DefaultSubtitlePosition
		}
		if ch.Privacy == "" {
			ch.Privacy = DefaultPrivacy
		}
		if ch.CategoryID == "" {
			ch.CategoryID = DefaultCategoryID
		}
		if ch.CredentialsDir == "" {
			ch.CredentialsDir = DefaultCredentialsDir
		}
	}
}

// Validate checks the whole config once, up front.
func (c *Config) Validate() error {
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if _, err := ParseDuration("generator.timeout", c.Generator.Timeout); err != nil {
		return err
	}
	if _, err := ParseDuration("state.busy_timeout", c.State.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("upload.backoff_cap", c.Upload.BackoffCap); err != nil {
		return err
	}
	if _, err := ParseDuration("upload.drain_timeout", c.Upload.DrainTimeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.State.Driver)) {
	case "", "none", "file", "sqlite":
	default:
		return fmt.Errorf("state.driver: unknown driver %q", c.State.Driver)
	}
	if c.Notify != nil {
		if strings.TrimSpace(c.Notify.Token) == "" || c.Notify.ChatID == 0 {
			return fmt.Errorf("notify: token and chat_id are both required when the section is present")
		}
	}

	seen := map[string]bool{}
	for i := range c.Channels {
		ch := &c.Channels[i]
		if err := ch.validate(); err != nil {
			return err
		}
		if seen[ch.Name] {
			return fmt.Errorf("channels: duplicate name %q", ch.Name)
		}
		seen[ch.Name] = true
	}
	return nil
}

func (ch *ChannelConfig) validate() error {
	name := strings.TrimSpace(ch.Name)
	if name == "" {
		return fmt.Errorf("channels: name is required")
	}
	if strings.ContainsAny(name, "/\\ ") {
		// The name keys token files and state snapshots on disk.
		return fmt.Errorf("channels.%s: name must not contain spaces or path separators", name)
	}
	if _, err := cronParser.Parse(ch.Schedule); err != nil {
		return fmt.Errorf("channels.%s: bad schedule %q: %w", name, ch.Schedule, err)
	}
	if len(ch.Topics) == 0 {
		return fmt.Errorf("channels.%s: at least one topic is required", name)
	}
	topicSeen := map[string]bool{}
	for _, topic := range ch.Topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("channels.%s: empty topic", name)
		}
		if topicSeen[topic] {
			return fmt.Errorf("channels.%s: duplicate topic %q", name, topic)
		}
		topicSeen[topic] = true
	}
	if ch.DailyLimit < 0 {
		return fmt.Errorf("channels.%s: daily_video_limit must be >= 0", name)
	}
	if _, err := ch.MinInterval(); err != nil {
		return err
	}
	if p := strings.TrimSpace(ch.Privacy); p != "" && !validPrivacy[p] {
		return fmt.Errorf("channels.%s: privacy must be public, unlisted or private", name)
	}
	if ch.ClipDuration < 0 || ch.ParagraphCount < 0 {
		return fmt.Errorf("channels.%s: negative generation parameters", name)
	}
	return nil
}

// Channel returns the named channel config, if present.
func (c *Config) Channel(name string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

// ParseDuration parses an optional duration field. Empty means unset (zero);
// negative values are rejected so a typo cannot disable a timeout.
func ParseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: not a duration: %q", field, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}

// yamlToJSON rewrites a .yaml/.yml config as JSON so a single strict decoder
// serves both formats. Anything else is assumed to already be JSON.
func yamlToJSON(path string, raw []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return raw, nil
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("rewrite yaml as json: %w", err)
	}
	return out, nil
}

// stringifyKeys walks the decoded document and forces every map key to a
// string, since YAML allows non-string keys and encoding/json does not.
func stringifyKeys(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			node[k] = stringifyKeys(child)
		}
		return node
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[fmt.Sprint(k)] = stringifyKeys(child)
		}
		return out
	case []any:
		for i, child := range node {
			node[i] = stringifyKeys(child)
		}
		return node
	}
	return v
}
