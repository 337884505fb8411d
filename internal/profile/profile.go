// Package profile holds the account details and practice preferences a user
// edits on the profile page.
package profile

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/scribblesense/scribblesense/internal/auth"
	"github.com/scribblesense/scribblesense/internal/language"
)

const maxNameLength = 100

var (
	// ErrNotFound is returned by a Store for users that never saved a profile.
	ErrNotFound = errors.New("profile not found")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid profile")
)

var (
	Themes        = []string{"dark", "light", "auto"}
	LearningGoals = []string{"beginner", "intermediate", "advanced", "professional"}
	Voices        = []string{"natural", "professional", "friendly", "formal"}
)

// Preferences are the practice settings of a user.
type Preferences struct {
	Language       language.Language `json:"language"`
	Theme          string            `json:"theme"`
	Notifications  bool              `json:"notifications"`
	AutoCorrect    bool              `json:"autoCorrect"`
	LearningGoal   string            `json:"learningGoal"`
	PreferredVoice string            `json:"preferredVoice"`
}

// DefaultPreferences apply until a user saves their own.
func DefaultPreferences() Preferences {
	return Preferences{
		Language:       language.English,
		Theme:          "dark",
		Notifications:  true,
		AutoCorrect:    true,
		LearningGoal:   "intermediate",
		PreferredVoice: "natural",
	}
}

// Profile is a user's editable account page.
type Profile struct {
	UserID      string      `json:"id"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Email       string      `json:"email"`
	JoinDate    string      `json:"joinDate,omitempty"`
	Preferences Preferences `json:"preferences"`
	UpdatedAt   time.Time   `json:"updatedAt,omitempty"`
}

// FromUser builds the initial profile of a signed-in user.
func FromUser(u auth.User) Profile {
	return Profile{
		UserID:      u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Email:       u.Email,
		JoinDate:    u.JoinDate,
		Preferences: DefaultPreferences(),
	}
}

// Normalize trims and lower-cases the fields of p and validates them.
func Normalize(p Profile) (Profile, error) {
	if p.UserID == "" {
		return p, fmt.Errorf("%w: missing user id", ErrInvalid)
	}

	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Email = strings.TrimSpace(p.Email)
	if p.FirstName == "" {
		return p, fmt.Errorf("%w: first name is required", ErrInvalid)
	}
	for _, name := range []string{p.FirstName, p.LastName} {
		if utf8.RuneCountInString(name) > maxNameLength {
			return p, fmt.Errorf("%w: names are limited to %d characters", ErrInvalid, maxNameLength)
		}
	}
	if p.Email != "" {
		addr, err := mail.ParseAddress(p.Email)
		if err != nil || addr.Address != p.Email {
			return p, fmt.Errorf("%w: invalid email %q", ErrInvalid, p.Email)
		}
	}

	prefs := &p.Preferences
	lang, err := language.Parse(string(prefs.Language))
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	prefs.Language = lang

	checks := []struct {
		field   string
		value   *string
		allowed []string
	}{
		{"theme", &prefs.Theme, Themes},
		{"learning goal", &prefs.LearningGoal, LearningGoals},
		{"preferred voice", &prefs.PreferredVoice, Voices},
	}
	for _, c := range checks {
		v := strings.ToLower(strings.TrimSpace(*c.value))
		if !contains(c.allowed, v) {
			return p, fmt.Errorf("%w: %s must be one of %s", ErrInvalid, c.field, strings.Join(c.allowed, ", "))
		}
		*c.value = v
	}
	return p, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Store persists profiles.
type Store interface {
	Profile(ctx context.Context, userID string) (Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
}

// MemoryStore keeps profiles for the lifetime of the process. It serves
// when no activity database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

func (s *MemoryStore) Profile(ctx context.Context, userID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) SaveProfile(ctx context.Context, p Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
	return nil
}
