package models

import "time"

// BattleStatus is the lifecycle state of a battle.
type BattleStatus string

// Battle statuses.
const (
	BattlePending   BattleStatus = "pending"
	BattleActive    BattleStatus = "active"
	BattleCompleted BattleStatus = "completed"
	BattleDeclined  BattleStatus = "declined"
	BattleExpired   BattleStatus = "expired"
)

// forward-only transitions
var battleTransitions = map[BattleStatus][]BattleStatus{
	BattlePending: {BattleActive, BattleDeclined, BattleExpired},
	BattleActive:  {BattleCompleted, BattleExpired},
}

// CanTransitionTo reports whether moving from s to next is a legal forward move.
func (s BattleStatus) CanTransitionTo(next BattleStatus) bool {
	for _, allowed := range battleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether the battle can still expire.
func (s BattleStatus) IsOpen() bool {
	return s == BattlePending || s == BattleActive
}

// QuestionCategory groups battle questions.
type QuestionCategory string

// Question categories.
const (
	CategoryHealth        QuestionCategory = "HEALTH"
	CategoryRelationships QuestionCategory = "RELATIONSHIPS"
	CategorySpirituality  QuestionCategory = "SPIRITUALITY"
	CategoryProductivity  QuestionCategory = "PRODUCTIVITY"
	CategoryHabits        QuestionCategory = "HABITS"
)

// BattleQuestion is one self-rated question of a battle. Fixed at creation.
type BattleQuestion struct {
	ID                string           `json:"id"`
	Question          string           `json:"question"`
	Category          QuestionCategory `json:"category"`
	PositiveWeighting bool             `json:"positiveWeighting"`
}

// Battle is a rated challenge between two users.
type Battle struct {
	ID                string           `gorm:"primaryKey;size:64" json:"id"`
	ChallengerID      string           `gorm:"not null;index;size:64" json:"challengerId"`
	DefenderID        string           `gorm:"not null;index;size:64" json:"defenderId"`
	Status            BattleStatus     `gorm:"not null;index;size:20" json:"status"`
	Questions         []BattleQuestion `gorm:"type:text;serializer:json" json:"questions"`
	ChallengerRatings []int            `gorm:"type:text;serializer:json" json:"challengerRatings"`
	DefenderRatings   []int            `gorm:"type:text;serializer:json" json:"defenderRatings"`
	WinnerID          *string          `gorm:"size:64" json:"winnerId,omitempty"`
	ChallengerScore   *int             `json:"challengerScore,omitempty"`
	DefenderScore     *int             `json:"defenderScore,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	ExpiresAt         time.Time        `gorm:"index" json:"expiresAt"`
	CompletedAt       *time.Time       `json:"completedAt,omitempty"`
}

// TableName specifies the table name for Battle model.
func (Battle) TableName() string {
	return "battles"
}

// ChallengerReady reports whether the challenger rated every question.
func (b *Battle) ChallengerReady() bool {
	return len(b.Questions) > 0 && len(b.ChallengerRatings) == len(b.Questions)
}

// DefenderReady reports whether the defender rated every question.
func (b *Battle) DefenderReady() bool {
	return len(b.Questions) > 0 && len(b.DefenderRatings) == len(b.Questions)
}

// IsDraw reports whether a completed battle ended without a winner.
func (b *Battle) IsDraw() bool {
	return b.Status == BattleCompleted && (b.WinnerID == nil || *b.WinnerID == "")
}

// Opponent returns the other participant.
func (b *Battle) Opponent(userID string) string {
	if userID == b.ChallengerID {
		return b.DefenderID
	}
	return b.ChallengerID
}

// BattleStats holds per-user battle counters.
type BattleStats struct {
	UserID        string     `gorm:"primaryKey;size:64" json:"userId"`
	TotalBattles  int        `gorm:"not null;default:0" json:"totalBattles"`
	Wins          int        `gorm:"not null;default:0" json:"wins"`
	Losses        int        `gorm:"not null;default:0" json:"losses"`
	Draws         int        `gorm:"not null;default:0" json:"draws"`
	CurrentStreak int        `gorm:"not null;default:0" json:"currentStreak"`
	BestStreak    int        `gorm:"not null;default:0" json:"bestStreak"`
	LastBattleAt  *time.Time `json:"lastBattleAt,omitempty"`
}

// TableName specifies the table name for BattleStats model.
func (BattleStats) TableName() string {
	return "battle_stats"
}

// WinRate returns the percentage of battles won.
func (s *BattleStats) WinRate() float64 {
	if s.TotalBattles == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TotalBattles) * 100
}

// BattleOutcome is the settled result of a battle.
type BattleOutcome string

// Battle outcomes.
const (
	OutcomeDecided BattleOutcome = "decided"
	OutcomeDraw    BattleOutcome = "draw"
)

// BattleSettlement marks a completed battle whose rewards were paid out.
type BattleSettlement struct {
	BattleID  string        `gorm:"primaryKey;size:64" json:"battleId"`
	Outcome   BattleOutcome `gorm:"size:20" json:"outcome"`
	SettledAt time.Time     `json:"settledAt"`
}

// TableName specifies the table name for BattleSettlement model.
func (BattleSettlement) TableName() string {
	return "battle_settlements"
}

// BattleResult is one side's result of a settled battle.
type BattleResult string

// Battle results.
const (
	ResultWin  BattleResult = "win"
	ResultLoss BattleResult = "loss"
	ResultDraw BattleResult = "draw"
)

// Record folds one settled battle into the counters. Draws and losses reset
// the current streak.
func (s *BattleStats) Record(result BattleResult, at time.Time) {
	s.TotalBattles++
	switch result {
	case ResultWin:
		s.Wins++
		s.CurrentStreak++
		if s.CurrentStreak > s.BestStreak {
			s.BestStreak = s.CurrentStreak
		}
	case ResultLoss:
		s.Losses++
		s.CurrentStreak = 0
	case ResultDraw:
		s.Draws++
		s.CurrentStreak = 0
	}
	s.LastBattleAt = &at
}
