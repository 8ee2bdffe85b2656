package achievements

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/habitroyale/habit-engine/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Well-known achievement ids.
const (
	BattleFirstWin = "battle_first_win"
	BattleStreak5  = "battle_streak_5"
)

// StreakAchievementID returns the id of the streak milestone achievement.
func StreakAchievementID(milestone int) string {
	return fmt.Sprintf("streak_%d", milestone)
}

// EvolutionAchievementID returns the id of the evolution achievement of a tier.
func EvolutionAchievementID(tier models.EvolutionTier) string {
	return fmt.Sprintf("evolution_%d", int(tier))
}

type catalogFile struct {
	Achievements []models.Achievement `yaml:"achievements"`
}

// LoadCatalog reads the catalog at path, or the built-in catalog when path
// is empty.
func LoadCatalog(path string) ([]models.Achievement, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read achievement catalog: %w", err)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) ([]models.Achievement, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse achievement catalog: %w", err)
	}

	seen := make(map[string]bool, len(file.Achievements))
	for i, a := range file.Achievements {
		if a.ID == "" {
			return nil, fmt.Errorf("achievement %d has no id", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate achievement id %q", a.ID)
		}
		if a.XPReward < 0 {
			return nil, fmt.Errorf("achievement %q has a negative xp reward", a.ID)
		}
		switch a.Category {
		case models.AchievementStreak, models.AchievementEvolution, models.AchievementBattle:
		default:
			return nil, fmt.Errorf("achievement %q has unknown category %q", a.ID, a.Category)
		}
		seen[a.ID] = true
	}
	return file.Achievements, nil
}
