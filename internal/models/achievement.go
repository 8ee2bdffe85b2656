package models

import (
	"time"
)

// AchievementCategory groups catalog entries.
type AchievementCategory string

// Achievement categories.
const (
	AchievementStreak    AchievementCategory = "STREAK"
	AchievementEvolution AchievementCategory = "EVOLUTION"
	AchievementBattle    AchievementCategory = "BATTLE"
)

// Achievement is a catalog entry that users can unlock.
type Achievement struct {
	ID          string              `gorm:"primaryKey;size:64" json:"id" yaml:"id"`
	Title       string              `gorm:"not null;size:255" json:"title" yaml:"title"`
	Description string              `gorm:"type:text" json:"description" yaml:"description"`
	Icon        string              `gorm:"size:50" json:"icon" yaml:"icon"`
	Category    AchievementCategory `gorm:"size:30" json:"category" yaml:"category"`
	XPReward    int                 `gorm:"not null;default:0" json:"xpReward" yaml:"xp_reward"`
	CreatedAt   time.Time           `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time           `json:"updatedAt" yaml:"-"`
}

// TableName specifies the table name for Achievement model.
func (Achievement) TableName() string {
	return "achievements"
}

// UserAchievement records an unlocked achievement. At most one per (user, achievement).
type UserAchievement struct {
	ID            string      `gorm:"primaryKey;size:64" json:"id"`
	UserID        string      `gorm:"not null;size:64;uniqueIndex:idx_user_achievement" json:"userId"`
	AchievementID string      `gorm:"not null;size:64;uniqueIndex:idx_user_achievement" json:"achievementId"`
	Achievement   Achievement `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
	AwardedAt     time.Time   `gorm:"not null" json:"awardedAt"`
	IsNew         bool        `gorm:"not null;default:true" json:"isNew"`
}

// TableName specifies the table name for UserAchievement model.
func (UserAchievement) TableName() string {
	return "user_achievements"
}
