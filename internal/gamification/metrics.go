package gamification

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	XPAwarded            *prometheus.CounterVec
	LevelUps             prometheus.Counter
	StreakUpdates        *prometheus.CounterVec
	BadgesEarned         *prometheus.CounterVec
	ChallengesCompleted  prometheus.Counter
	Redemptions          *prometheus.CounterVec
	PipelineStepFailures *prometheus.CounterVec
	CASConflicts         *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		XPAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gamification",
			Name:      "xp_awarded_total",
			Help:      "XP points awarded, by event.",
		}, []string{"event"}),
		LevelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gamification",
			Name:      "level_ups_total",
			Help:      "Level-ups across all users.",
		}),
		StreakUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gamification",
			Name:      "streak_updates_total",
			Help:      "Streak updates, by outcome.",
		}, []string{"outcome"}),
		BadgesEarned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gamification",
			Name:      "badges_earned_total",
			Help:      "Badges earned, by rarity.",
		}, []string{"rarity"}),
		ChallengesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gamification",
			Name:      "challenges_completed_total",
			Help:      "Challenges completed.",
		}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gamification",
			Name:      "redemptions_total",
			Help:      "Reward redemption attempts, by outcome.",
		}, []string{"outcome"}),
		PipelineStepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gamification",
			Name:      "pipeline_step_failures_total",
			Help:      "Activity pipeline step failures, by step.",
		}, []string{"step"}),
		CASConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorly",
			Subsystem: "gamification",
			Name:      "cas_conflicts_total",
			Help:      "Optimistic write conflicts that forced a retry, by table.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.XPAwarded, m.LevelUps, m.StreakUpdates, m.BadgesEarned,
			m.ChallengesCompleted, m.Redemptions, m.PipelineStepFailures, m.CASConflicts,
		)
	}
	return m
}

func (m *Metrics) xpAwarded(event Event, points int64) {
	if m == nil {
		return
	}
	m.XPAwarded.WithLabelValues(string(event)).Add(float64(points))
}

func (m *Metrics) levelUp() {
	if m == nil {
		return
	}
	m.LevelUps.Inc()
}

func (m *Metrics) streak(outcome StreakOutcome) {
	if m == nil {
		return
	}
	m.StreakUpdates.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) badgeEarned(rarity string) {
	if m == nil {
		return
	}
	m.BadgesEarned.WithLabelValues(rarity).Inc()
}

func (m *Metrics) challengeCompleted() {
	if m == nil {
		return
	}
	m.ChallengesCompleted.Inc()
}

func (m *Metrics) redemption(outcome string) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) stepFailed(step string) {
	if m == nil {
		return
	}
	m.PipelineStepFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) casConflict(table string) {
	if m == nil {
		return
	}
	m.CASConflicts.WithLabelValues(table).Inc()
}
