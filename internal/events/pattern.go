package events

import (
	"fmt"
	"strings"
)

// Pattern is a document path template such as "users/{userId}/pets/{petId}".
type Pattern struct {
	raw      string
	segments []string
}

// CompilePattern parses a path template. Wildcard segments are written as
// {name} and must be unique.
func CompilePattern(raw string) (Pattern, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}

	segments := strings.Split(raw, "/")
	seen := make(map[string]bool)
	for _, seg := range segments {
		if seg == "" {
			return Pattern{}, fmt.Errorf("pattern %q has an empty segment", raw)
		}
		if name, ok := wildcard(seg); ok {
			if name == "" || seen[name] {
				return Pattern{}, fmt.Errorf("pattern %q has an invalid wildcard %q", raw, seg)
			}
			seen[name] = true
		}
	}
	return Pattern{raw: raw, segments: segments}, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
func MustCompilePattern(raw string) Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether path matches the pattern and returns the wildcard values.
func (p Pattern) Match(path string) (map[string]string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}

	params := make(map[string]string)
	for i, seg := range p.segments {
		if name, ok := wildcard(seg); ok {
			if parts[i] == "" {
				return nil, false
			}
			params[name] = parts[i]
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return params, true
}

func (p Pattern) String() string {
	return p.raw
}

func wildcard(seg string) (string, bool) {
	if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

// Document paths watched by the engine.
var (
	UserPath   = MustCompilePattern("users/{userId}")
	PetPath    = MustCompilePattern("users/{userId}/pets/{petId}")
	StreakPath = MustCompilePattern("users/{userId}/streak/{streakId}")
	BattlePath = MustCompilePattern("battles/{battleId}")
)

// UserDoc returns the path of a user document.
func UserDoc(userID string) string {
	return "users/" + userID
}

// PetDoc returns the path of a pet document.
func PetDoc(userID, petID string) string {
	return "users/" + userID + "/pets/" + petID
}

// BattleDoc returns the path of a battle document.
func BattleDoc(battleID string) string {
	return "battles/" + battleID
}
