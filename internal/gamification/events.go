package gamification

import (
	"fmt"
	"sort"
)

// Event is a symbolic gamification trigger. The set is closed: anything not
// listed in allEvents is rejected by ParseEvent.
type Event string

const (
	EventDailyLogin         Event = "daily_login"
	EventLessonCompleted    Event = "lesson_completed"
	EventLessonDelivered    Event = "lesson_delivered"
	EventSessionBooked      Event = "session_booked"
	EventReviewWritten      Event = "review_written"
	EventReviewReceived     Event = "review_received"
	EventAIQuestionAsked    Event = "ai_question_asked"
	EventProfileCompleted   Event = "profile_completed"
	EventChallengeCompleted Event = "challenge_completed"
)

var allEvents = []Event{
	EventDailyLogin,
	EventLessonCompleted,
	EventLessonDelivered,
	EventSessionBooked,
	EventReviewWritten,
	EventReviewReceived,
	EventAIQuestionAsked,
	EventProfileCompleted,
	EventChallengeCompleted,
}

// EventValue is what a single occurrence of an event is worth.
type EventValue struct {
	Points          int64
	Coins           int64
	ChallengeWeight int
	// CountsForStreak marks events that keep a daily streak alive.
	CountsForStreak bool
	// BonusOnly events carry a caller-supplied amount (see AwardBonus).
	BonusOnly bool
}

var defaultEventValues = map[Event]EventValue{
	EventDailyLogin:         {Points: 5, Coins: 1, ChallengeWeight: 1, CountsForStreak: true},
	EventLessonCompleted:    {Points: 50, Coins: 10, ChallengeWeight: 1, CountsForStreak: true},
	EventLessonDelivered:    {Points: 40, Coins: 8, ChallengeWeight: 1, CountsForStreak: true},
	EventSessionBooked:      {Points: 10, Coins: 2, ChallengeWeight: 1},
	EventReviewWritten:      {Points: 15, Coins: 3, ChallengeWeight: 1},
	EventReviewReceived:     {Points: 20, Coins: 4, ChallengeWeight: 1},
	EventAIQuestionAsked:    {Points: 2, Coins: 0, ChallengeWeight: 1},
	EventProfileCompleted:   {Points: 25, Coins: 5, ChallengeWeight: 1},
	EventChallengeCompleted: {ChallengeWeight: 1, BonusOnly: true},
}

// EventOverride replaces parts of a default EventValue. Nil fields keep the default.
type EventOverride struct {
	Points          *int64 `yaml:"points"`
	Coins           *int64 `yaml:"coins"`
	ChallengeWeight *int   `yaml:"challenge_weight"`
}

// EventTable resolves events to their values. It is immutable after construction.
type EventTable struct {
	values map[Event]EventValue
}

func DefaultEventTable() *EventTable {
	t, _ := NewEventTable(nil)
	return t
}

// NewEventTable applies overrides on top of the defaults. It fails on
// unknown event names and negative values so typos surface at startup.
func NewEventTable(overrides map[string]EventOverride) (*EventTable, error) {
	values := make(map[Event]EventValue, len(defaultEventValues))
	for e, v := range defaultEventValues {
		values[e] = v
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e, err := ParseEvent(name)
		if err != nil {
			return nil, fmt.Errorf("event table: %w", err)
		}
		o := overrides[name]
		v := values[e]
		if o.Points != nil {
			if *o.Points < 0 {
				return nil, fmt.Errorf("event table: %s points must be >= 0", name)
			}
			v.Points = *o.Points
		}
		if o.Coins != nil {
			if *o.Coins < 0 {
				return nil, fmt.Errorf("event table: %s coins must be >= 0", name)
			}
			v.Coins = *o.Coins
		}
		if o.ChallengeWeight != nil {
			if *o.ChallengeWeight < 1 {
				return nil, fmt.Errorf("event table: %s challenge_weight must be >= 1", name)
			}
			v.ChallengeWeight = *o.ChallengeWeight
		}
		values[e] = v
	}

	return &EventTable{values: values}, nil
}

func (t *EventTable) Value(e Event) (EventValue, error) {
	v, ok := t.values[e]
	if !ok {
		return EventValue{}, fmt.Errorf("%w: %q", ErrInvalidEvent, string(e))
	}
	return v, nil
}

// ParseEvent maps a wire name onto the closed Event set.
func ParseEvent(name string) (Event, error) {
	for _, e := range allEvents {
		if string(e) == name {
			return e, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEvent, name)
}

// Events lists every known event in declaration order.
func Events() []Event {
	out := make([]Event, len(allEvents))
	copy(out, allEvents)
	return out
}
