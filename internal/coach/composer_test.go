package coach

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/tutorly/backend/internal/models"
)

type fakeLLM struct {
	content string
	err     error
	delay   time.Duration
	prompts []string
}

func (f *fakeLLM) Generate(ctx context.Context, system, user string) (*LLMResponse, error) {
	f.prompts = append(f.prompts, user)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &LLMResponse{Content: f.content}, nil
}

var (
	ada     = models.Profile{ID: uuid.New(), Email: "ada@example.com", FullName: "Ada Lovelace"}
	levelUp = models.Notification{
		Kind:    models.NotificationLevelUp,
		Subject: "You reached level 3!",
		Facts:   map[string]string{"total_xp": "420", "level": "3"},
	}
)

func TestComposeUsesModelOutput(t *testing.T) {
	llm := &fakeLLM{content: `  "Ada, level 3 already! Your steady lessons are paying off."  `}
	c := NewComposer(llm, time.Second, nil)

	msg := c.Compose(context.Background(), ada, levelUp)
	assert.Equal(t, "You reached level 3!", msg.Subject)
	assert.Equal(t, "Ada, level 3 already! Your steady lessons are paying off.", msg.Body)

	a := assert.New(t)
	a.Len(llm.prompts, 1)
	prompt := llm.prompts[0]
	a.Contains(prompt, "Learner first name: Ada")
	a.Contains(prompt, "Achievement: level up")
	a.Less(strings.Index(prompt, "level: 3"), strings.Index(prompt, "total xp: 420"), "facts are sorted")
}

func TestComposeFallsBack(t *testing.T) {
	want := Template(ada, levelUp)
	tests := []struct {
		name string
		llm  LLMClient
	}{
		{"no client", nil},
		{"error", &fakeLLM{err: errors.New("overloaded")}},
		{"empty", &fakeLLM{content: "   "}},
		{"too long", &fakeLLM{content: strings.Repeat("great ", 100)}},
		{"markdown", &fakeLLM{content: "**Amazing** work!"}},
		{"timeout", &fakeLLM{content: "late", delay: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewComposer(tt.llm, 20*time.Millisecond, nil)
			msg := c.Compose(context.Background(), ada, levelUp)
			assert.Equal(t, want, msg.Body)
		})
	}
}

func TestTemplate(t *testing.T) {
	anon := models.Profile{ID: uuid.New(), Email: "x@example.com"}

	assert.Equal(t, "Great work, Ada! You just reached level 3. Keep the momentum going.", Template(ada, levelUp))
	assert.Contains(t, Template(anon, levelUp), "Great work, there!")

	badge := models.Notification{Kind: models.NotificationBadgeEarned, Facts: map[string]string{"badge": "Week Warrior", "description": "Reach a 7-day streak"}}
	assert.Equal(t, "Congratulations, Ada! You earned the Week Warrior badge: Reach a 7-day streak.", Template(ada, badge))

	challenge := models.Notification{Kind: models.NotificationChallengeCompleted, Facts: map[string]string{"challenge": "Weekly Learner", "bonus_xp": "100"}}
	assert.Contains(t, Template(ada, challenge), "Weekly Learner challenge and earned 100 bonus XP")
}
