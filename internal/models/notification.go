package models

import "time"

// NotificationKind identifies the push template.
type NotificationKind string

// Notification kinds.
const (
	NotifyLowHealth    NotificationKind = "LOW_HEALTH"
	NotifyEvolution    NotificationKind = "EVOLUTION"
	NotifyAchievement  NotificationKind = "ACHIEVEMENT"
	NotifyBattleResult NotificationKind = "BATTLE_RESULT"
)

// NotificationStatus is the delivery state of an outbox row.
type NotificationStatus string

// Notification statuses.
const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationSkipped NotificationStatus = "skipped"
	NotificationFailed  NotificationStatus = "failed"
)

// NotificationIntent is an outbox row written inside core transactions and
// delivered later by the relay.
type NotificationIntent struct {
	ID        string             `gorm:"primaryKey;size:64" json:"id"`
	UserID    string             `gorm:"not null;index;size:64" json:"userId"`
	Kind      NotificationKind   `gorm:"not null;size:30" json:"kind"`
	Title     string             `gorm:"size:255" json:"title"`
	Body      string             `gorm:"type:text" json:"body"`
	Data      map[string]string  `gorm:"type:text;serializer:json" json:"data"`
	Status    NotificationStatus `gorm:"not null;size:20;index" json:"status"`
	Attempts  int                `gorm:"not null;default:0" json:"attempts"`
	LastError string             `gorm:"type:text" json:"lastError,omitempty"`
	CreatedAt time.Time          `gorm:"index" json:"createdAt"`
	SentAt    *time.Time         `json:"sentAt,omitempty"`
}

// TableName specifies the table name for NotificationIntent model.
func (NotificationIntent) TableName() string {
	return "notification_outbox"
}

// ProcessedEvent records a change event whose handlers completed.
type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey;size:64" json:"eventId"`
	Path        string    `gorm:"size:255" json:"path"`
	ProcessedAt time.Time `json:"processedAt"`
}

// TableName specifies the table name for ProcessedEvent model.
func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// All returns every model, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Pet{},
		&Streak{},
		&HabitLog{},
		&Battle{},
		&BattleStats{},
		&BattleSettlement{},
		&Achievement{},
		&UserAchievement{},
		&LeaderboardEntry{},
		&NotificationIntent{},
		&ChangeRecord{},
		&ProcessedEvent{},
	}
}
