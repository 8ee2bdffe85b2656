// Package models defines the persisted documents of the Habit Royale engine.
package models

import (
	"time"
)

// User represents a player account.
type User struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Username    string    `gorm:"uniqueIndex;not null;size:255" json:"username"`
	Email       string    `gorm:"size:255" json:"email"`
	Level       int       `gorm:"not null" json:"level"`
	Experience  int       `gorm:"not null;default:0" json:"experience"`
	ActivePetID *string   `gorm:"size:64" json:"activePetId,omitempty"`
	Role        string    `gorm:"size:50;default:user" json:"role"`
	PushToken   string    `gorm:"size:512" json:"fcmToken,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName specifies the table name for User model.
func (User) TableName() string {
	return "users"
}

// HasActivePet reports whether the user points at an active pet.
func (u *User) HasActivePet() bool {
	return u.ActivePetID != nil && *u.ActivePetID != ""
}

// Streak tracks consecutive days with logged habits.
type Streak struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	UserID        string    `gorm:"not null;index;size:64" json:"userId"`
	Count         int       `gorm:"not null;default:0" json:"count"`
	LongestStreak int       `gorm:"not null;default:0" json:"longestStreak"`
	LastDate      time.Time `json:"lastDate"`
	StartDate     time.Time `json:"startDate"`
}

// TableName specifies the table name for Streak model.
func (Streak) TableName() string {
	return "streaks"
}

// HabitType enumerates the tracked habit kinds.
type HabitType string

// Habit types.
const (
	HabitSleep      HabitType = "SLEEP"
	HabitExercise   HabitType = "EXERCISE"
	HabitScreenTime HabitType = "SCREEN_TIME"
	HabitCustom     HabitType = "CUSTOM"
)

// HabitLog is a single logged habit entry.
type HabitLog struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	UserID     string    `gorm:"not null;index:idx_habit_logs_user_date;size:64" json:"userId"`
	HabitID    string    `gorm:"size:64" json:"habitId"`
	HabitType  HabitType `gorm:"size:20" json:"habitType"`
	Date       time.Time `gorm:"not null;index:idx_habit_logs_user_date" json:"date"`
	Value      *float64  `json:"value,omitempty"`
	Percentage float64   `json:"percentage"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName specifies the table name for HabitLog model.
func (HabitLog) TableName() string {
	return "habit_logs"
}
