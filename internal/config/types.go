// Package config loads and validates clipcast configuration.
//
// The config is a single YAML or JSON file. YAML input is coerced to JSON so
// both formats go through the same strict decoder: unknown fields and
// trailing data are rejected at load time, not discovered mid-run.
package config

import (
	"time"
)

// Config is the full daemon configuration.
//
// All durations are Go duration strings (e.g. "30m", "1h").
type Config struct {
	// Timezone interprets every channel schedule (IANA TZ).
	Timezone string `json:"timezone,omitempty"`

	Logging   LoggingConfig    `json:"logging,omitempty"`
	State     StateConfig      `json:"state,omitempty"`
	Generator GeneratorConfig  `json:"generator,omitempty"`
	Notify    *NotifyConfig    `json:"notify,omitempty"`
	Upload    UploadConfig     `json:"upload,omitempty"`
	Channels  []ChannelConfig  `json:"channels"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StateConfig selects quota/topic-history persistence.
// Driver: "none" (restart resets history), "file", or "sqlite".
type StateConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type GeneratorConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// NotifyConfig enables Telegram notifications of run outcomes.
type NotifyConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// UploadConfig tunes the publish pipeline and transport.
type UploadConfig struct {
	RetryMax   int    `json:"retry_max,omitempty"`
	BackoffCap string `json:"backoff_cap,omitempty"`

	// DrainTimeout bounds shutdown waiting for in-flight publishes.
	DrainTimeout string `json:"drain_timeout,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// ChannelConfig is one publishing destination. Immutable once loaded;
// a config reload produces a fresh slice.
type ChannelConfig struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"` // five-field cron expression
	Topics   []string `json:"topics"`

	Language string `json:"language,omitempty"`
	Voice    string `json:"voice,omitempty"`

	// Generation format parameters.
	Aspect           string `json:"video_aspect,omitempty"`
	ClipDuration     int    `json:"video_clip_duration,omitempty"`
	ParagraphCount   int    `json:"paragraph_number,omitempty"`
	SubtitleEnabled  *bool  `json:"subtitle_enabled,omitempty"`
	SubtitlePosition string `json:"subtitle_position,omitempty"`

	// Upload settings.
	Privacy             string   `json:"privacy,omitempty"`
	NotifySubscribers   bool     `json:"notify_subscribers,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	CategoryID          string   `json:"category_id,omitempty"`
	DescriptionTemplate string   `json:"description_template,omitempty"`
	CredentialsDir      string   `json:"credentials_dir,omitempty"`

	// Rate limiting.
	DailyLimit        int    `json:"daily_video_limit"`
	MinUploadInterval string `json:"min_upload_interval,omitempty"`
}

// Defaults applied where a channel omits a value.
const (
	DefaultLanguage         = "en"
	DefaultVoice            = "en-US-JennyNeural-Female"
	DefaultAspect           = "9:16"
	DefaultClipDuration     = 5
	DefaultParagraphCount   = 2
	DefaultSubtitlePosition = "top"
	DefaultPrivacy          = "public"
	DefaultCategoryID       = "22" // People & Blogs
	DefaultCredentialsDir   = "./credentials"
)

// SubtitleOn reports the channel's subtitle setting (default on).
func (c ChannelConfig) SubtitleOn() bool {
	if c.SubtitleEnabled == nil {
		return true
	}
	return *c.SubtitleEnabled
}

// MinInterval parses the channel's minimum upload gap.
func (c ChannelConfig) MinInterval() (time.Duration, error) {
	return ParseDuration("channels."+c.Name+".min_upload_interval", c.MinUploadInterval)
}
