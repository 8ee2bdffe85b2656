// Package metrics provides Prometheus exporters for application metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the rules engine.
var (
	// Trigger metrics.
	TriggersProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_triggers_processed_total",
			Help: "Total trigger handler executions by outcome",
		},
		[]string{"trigger", "outcome"},
	)

	ChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_change_events_total",
			Help: "Total change events received by source and status",
		},
		[]string{"source", "status"},
	)

	TriggerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "habit_trigger_duration_seconds",
			Help:    "Time taken by a trigger handler",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		},
		[]string{"trigger"},
	)

	// Game progression metrics.
	PetEvolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_pet_evolutions_total",
			Help: "Total pet evolutions by reached tier",
		},
		[]string{"tier"},
	)

	AchievementsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_achievements_awarded_total",
			Help: "Total achievements awarded",
		},
		[]string{"achievement", "category"},
	)

	XPAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_xp_awarded_total",
			Help: "Total experience points awarded by reason",
		},
		[]string{"reason"},
	)

	BattlesSettledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_battles_settled_total",
			Help: "Total battles settled by outcome",
		},
		[]string{"outcome"},
	)

	// Notification metrics.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_notifications_total",
			Help: "Total notification intents handled by kind and final status",
		},
		[]string{"kind", "status"},
	)

	NotificationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "habit_notifications_pending",
			Help: "Pending notification intents seen by the last relay run",
		},
	)

	// Scheduler metrics.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_job_runs_total",
			Help: "Total scheduled job executions",
		},
		[]string{"job", "status"},
	)

	JobEntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_job_entities_total",
			Help: "Entities visited by scheduled jobs by result",
		},
		[]string{"job", "result"},
	)

	JobLastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "habit_job_last_run_timestamp",
			Help: "Unix timestamp of the last run of each job",
		},
		[]string{"job"},
	)

	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "habit_job_duration_seconds",
			Help:    "Time taken to execute a scheduled job",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"job"},
	)
)

// RecordTrigger records one trigger handler execution.
func RecordTrigger(trigger, outcome string, seconds float64) {
	TriggersProcessedTotal.WithLabelValues(trigger, outcome).Inc()
	TriggerDurationSeconds.WithLabelValues(trigger).Observe(seconds)
}

// RecordChangeEvent records a received change event.
func RecordChangeEvent(source, status string) {
	ChangeEventsTotal.WithLabelValues(source, status).Inc()
}

// RecordEvolution records a pet reaching a new tier.
func RecordEvolution(tier string) {
	PetEvolutionsTotal.WithLabelValues(tier).Inc()
}

// RecordAchievementAwarded records an achievement award.
func RecordAchievementAwarded(achievement, category string) {
	AchievementsAwardedTotal.WithLabelValues(achievement, category).Inc()
}

// RecordXPAwarded adds awarded experience for a reason.
func RecordXPAwarded(reason string, amount int) {
	XPAwardedTotal.WithLabelValues(reason).Add(float64(amount))
}

// RecordBattleSettled records a settled battle.
func RecordBattleSettled(outcome string) {
	BattlesSettledTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification records the final status of a notification intent.
func RecordNotification(kind, status string) {
	NotificationsTotal.WithLabelValues(kind, status).Inc()
}

// SetNotificationsPending sets the pending intent gauge.
func SetNotificationsPending(count int) {
	NotificationsPending.Set(float64(count))
}

// RecordJobRun records a scheduled job execution and its duration.
func RecordJobRun(job, status string, seconds float64) {
	JobRunsTotal.WithLabelValues(job, status).Inc()
	JobDurationSeconds.WithLabelValues(job).Observe(seconds)
	JobLastRunTimestamp.WithLabelValues(job).SetToCurrentTime()
}

// RecordJobEntities adds per-entity results of a job run.
func RecordJobEntities(job string, updated, failed int) {
	JobEntitiesTotal.WithLabelValues(job, "updated").Add(float64(updated))
	JobEntitiesTotal.WithLabelValues(job, "failed").Add(float64(failed))
}
