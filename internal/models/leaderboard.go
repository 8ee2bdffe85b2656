package models

import "time"

// LeaderboardPeriod is a scoring window.
type LeaderboardPeriod string

// Leaderboard periods.
const (
	PeriodWeekly  LeaderboardPeriod = "weekly"
	PeriodMonthly LeaderboardPeriod = "monthly"
	PeriodAllTime LeaderboardPeriod = "all_time"
)

// LeaderboardEntryID builds the document id of a user's entry for a period.
func LeaderboardEntryID(period LeaderboardPeriod, userID string) string {
	return string(period) + "_" + userID
}

// LeaderboardEntry is the denormalized score of a user for one period.
type LeaderboardEntry struct {
	ID        string            `gorm:"primaryKey;size:140" json:"id"`
	UserID    string            `gorm:"not null;index;size:64" json:"userId"`
	Username  string            `gorm:"size:255" json:"username"`
	Score     int               `gorm:"not null;index" json:"score"`
	Period    LeaderboardPeriod `gorm:"not null;size:20;index" json:"period"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// TableName specifies the table name for LeaderboardEntry model.
func (LeaderboardEntry) TableName() string {
	return "leaderboard_entries"
}
