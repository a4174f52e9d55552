// Package coach writes the short, personal text that goes out with level-up,
// badge and challenge notifications.
package coach

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

const maxMessageRunes = 320

const systemPrompt = `You are the encouraging study coach of an online tutoring marketplace.
Write one or two short sentences congratulating the learner on the achievement described.
Address them by first name. Be warm and specific, never sarcastic. No emojis, no hashtags,
no quotation marks, no markdown. Do not invent facts that are not given.`

type Message struct {
	Subject string
	Body    string
}

// Composer asks an LLM for the message body and falls back to a fixed
// template whenever no client is configured or the call fails.
type Composer struct {
	llm     LLMClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewComposer accepts a nil llm, in which case every message uses the template.
func NewComposer(llm LLMClient, timeout time.Duration, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{llm: llm, timeout: timeout, logger: logger}
}

func (c *Composer) Compose(ctx context.Context, profile models.Profile, n models.Notification) Message {
	msg := Message{Subject: n.Subject, Body: Template(profile, n)}
	if c.llm == nil {
		return msg
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.llm.Generate(ctx, systemPrompt, UserPrompt(profile, n))
	if err != nil {
		c.logger.Warn("coach message fell back to template", zap.String("kind", n.Kind), zap.Error(err))
		return msg
	}
	body, ok := clean(resp.Content)
	if !ok {
		c.logger.Warn("coach message rejected", zap.String("kind", n.Kind), zap.Int("length", len(resp.Content)))
		return msg
	}
	msg.Body = body
	return msg
}

// UserPrompt lists the notification facts in a stable order.
func UserPrompt(profile models.Profile, n models.Notification) string {
	keys := make([]string, 0, len(n.Facts))
	for k := range n.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Learner first name: %s\n", profile.FirstName())
	fmt.Fprintf(&b, "Achievement: %s\n", strings.ReplaceAll(n.Kind, "_", " "))
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", strings.ReplaceAll(k, "_", " "), n.Facts[k])
	}
	return b.String()
}

// Template is the message used without a model.
func Template(profile models.Profile, n models.Notification) string {
	name := profile.FirstName()
	switch n.Kind {
	case models.NotificationLevelUp:
		return fmt.Sprintf("Great work, %s! You just reached level %s. Keep the momentum going.", name, n.Facts["level"])
	case models.NotificationBadgeEarned:
		return fmt.Sprintf("Congratulations, %s! You earned the %s badge: %s.", name, n.Facts["badge"], n.Facts["description"])
	case models.NotificationChallengeCompleted:
		return fmt.Sprintf("Well done, %s! You completed the %s challenge and earned %s bonus XP.", name, n.Facts["challenge"], n.Facts["bonus_xp"])
	default:
		return fmt.Sprintf("Nice progress, %s! %s", name, n.Subject)
	}
}

// clean trims model output and rejects anything that is empty, too long or
// still looks like markup.
func clean(s string) (string, bool) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'")
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > maxMessageRunes {
		return "", false
	}
	if strings.ContainsAny(s, "#*`<>") {
		return "", false
	}
	return s, true
}
