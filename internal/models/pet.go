package models

import "time"

// EvolutionTier is the ordinal maturity stage of a pet.
type EvolutionTier int

// Evolution tiers, ordered.
const (
	TierEgg EvolutionTier = iota
	TierBaby
	TierYoung
	TierAdult
	TierElite
	TierLegendary
)

var tierNames = [...]string{"egg", "baby", "young", "adult", "elite", "legendary"}

// String returns the lowercase tier name.
func (t EvolutionTier) String() string {
	if t < TierEgg || int(t) >= len(tierNames) {
		return "unknown"
	}
	return tierNames[t]
}

// Pet is a virtual pet owned by a user.
type Pet struct {
	ID              string        `gorm:"primaryKey;size:64" json:"id"`
	UserID          string        `gorm:"not null;index;size:64" json:"userId"`
	TemplateID      string        `gorm:"size:64" json:"templateId"`
	Name            string        `gorm:"size:100" json:"name"`
	Level           int           `gorm:"not null" json:"level"`
	Experience      int           `gorm:"not null;default:0" json:"experience"`
	Health          int           `gorm:"not null" json:"health"`
	MaxHealth       int           `gorm:"not null" json:"maxHealth"`
	Attack          int           `gorm:"not null" json:"attack"`
	Defense         int           `gorm:"not null" json:"defense"`
	EvolutionTier   EvolutionTier `gorm:"column:evolution_tier;not null" json:"evolution"`
	SlotIndex       int           `json:"slotIndex"`
	IsActive        bool          `json:"isActive"`
	LastFed         time.Time     `json:"lastFed"`
	LastHealthDecay *time.Time    `json:"lastHealthDecay,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// TableName specifies the table name for Pet model.
func (Pet) TableName() string {
	return "pets"
}
