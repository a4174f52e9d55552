package gamification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	for _, e := range Events() {
		got, err := ParseEvent(string(e))
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}

	_, err := ParseEvent("lesson_skipped")
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDefaultEventTableCoversEveryEvent(t *testing.T) {
	table := DefaultEventTable()
	for _, e := range Events() {
		v, err := table.Value(e)
		require.NoError(t, err, e)
		assert.GreaterOrEqual(t, v.ChallengeWeight, 1, e)
	}

	_, err := table.Value(Event("nope"))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestNewEventTableOverrides(t *testing.T) {
	points := int64(80)
	weight := 2
	table, err := NewEventTable(map[string]EventOverride{
		"lesson_completed": {Points: &points, ChallengeWeight: &weight},
	})
	require.NoError(t, err)

	v, err := table.Value(EventLessonCompleted)
	require.NoError(t, err)
	assert.Equal(t, int64(80), v.Points)
	assert.Equal(t, int64(10), v.Coins, "coins keep the default")
	assert.Equal(t, 2, v.ChallengeWeight)
	assert.True(t, v.CountsForStreak)

	// defaults are not mutated
	d, _ := DefaultEventTable().Value(EventLessonCompleted)
	assert.Equal(t, int64(50), d.Points)
}

func TestNewEventTableRejects(t *testing.T) {
	neg := int64(-1)
	zero := 0
	tests := []struct {
		name      string
		overrides map[string]EventOverride
	}{
		{"unknown event", map[string]EventOverride{"lesson_skipped": {}}},
		{"negative points", map[string]EventOverride{"daily_login": {Points: &neg}}},
		{"negative coins", map[string]EventOverride{"daily_login": {Coins: &neg}}},
		{"zero weight", map[string]EventOverride{"daily_login": {ChallengeWeight: &zero}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEventTable(tt.overrides)
			assert.Error(t, err)
		})
	}
}
