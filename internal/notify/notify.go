// Package notify reports run outcomes to a Telegram chat.
//
// Notifications are best effort. A send failure is logged and dropped; it
// never affects the run that produced it.
package notify

import (
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"clipcast/internal/orchestrator"
	"clipcast/pkg/logx"
)

// Config for the Telegram notifier. URL overrides the Bot API endpoint;
// Offline skips the startup handshake (both used by tests).
type Config struct {
	Token   string
	ChatID  int64
	URL     string
	Offline bool
}

type Notifier struct {
	bot    *tele.Bot
	chatID int64
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	return &Notifier{bot: b, chatID: cfg.ChatID, log: log}, nil
}

// RunResult sends a summary of one publishing run.
func (n *Notifier) RunResult(res orchestrator.Result) {
	n.send(formatResult(res))
}

// Text sends a free-form message (startup, shutdown, reload notices).
func (n *Notifier) Text(msg string) {
	n.send(msg)
}

func (n *Notifier) send(msg string) {
	if _, err := n.bot.Send(tele.ChatID(n.chatID), msg); err != nil {
		n.log.Warn("notification send failed",
			logx.Int64("chat_id", n.chatID), logx.Err(err))
		return
	}
	n.log.Debug("notification sent", logx.Int64("chat_id", n.chatID))
}

func formatResult(res orchestrator.Result) string {
	switch {
	case res.Skipped:
		return fmt.Sprintf("⏭ %s: skipped, daily quota reached", res.ChannelID)
	case res.Err != nil:
		return fmt.Sprintf("❌ %s: %s failed\ntopic: %s\n%v",
			res.ChannelID, res.Stage, orDash(res.Topic), res.Err)
	case res.RemoteID == "":
		return fmt.Sprintf("🧪 %s: dry run complete\ntopic: %s\nartifact: %s",
			res.ChannelID, res.Topic, res.ArtifactPath)
	default:
		return fmt.Sprintf("✅ %s: published\ntopic: %s\nhttps://youtu.be/%s",
			res.ChannelID, res.Topic, res.RemoteID)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
