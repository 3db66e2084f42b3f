// Package state holds the per-profile stores (settings, stats, user and
// document) and the key-value backends they persist to.
package state

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Keys under which each store is persisted inside a profile namespace.
const (
	KeySettings = "settings"
	KeyStats    = "stats"
	KeyUser     = "user"
	KeyDocument = "document"
)

// PlaceholderAPIKey is what the settings dialog shows before a key is entered.
const PlaceholderAPIKey = "YOUR_API_KEY"

const (
	DefaultLookbackChars = 800
	DefaultMaxTokens     = 256
	DefaultTemperature   = 0.7
	MaxTokensLimit       = 4000

	// Dollars per thousand tokens used for the stats cost estimate.
	costPerThousandTokens = 0.02
)

var (
	ErrNotFound        = errors.New("state: not found")
	ErrInvalidSettings = errors.New("invalid settings")
)

type Settings struct {
	APIKey        string  `json:"apiKey"`
	LookbackChars int     `json:"lookbackChars"`
	MaxTokens     int     `json:"maxTokens"`
	Temperature   float64 `json:"temperature"`
}

func DefaultSettings() Settings {
	return Settings{
		APIKey:        PlaceholderAPIKey,
		LookbackChars: DefaultLookbackChars,
		MaxTokens:     DefaultMaxTokens,
		Temperature:   DefaultTemperature,
	}
}

// HasAPIKey reports whether the user configured a key of their own.
func (s Settings) HasAPIKey() bool {
	key := strings.TrimSpace(s.APIKey)
	return key != "" && key != PlaceholderAPIKey
}

func (s Settings) Validate() error {
	if s.MaxTokens < 1 || s.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("%w: maxTokens must be between 1 and %d", ErrInvalidSettings, MaxTokensLimit)
	}
	if math.IsNaN(s.Temperature) || s.Temperature < 0 || s.Temperature > 1 {
		return fmt.Errorf("%w: temperature must be between 0 and 1", ErrInvalidSettings)
	}
	if s.LookbackChars < 0 {
		return fmt.Errorf("%w: lookbackChars must not be negative", ErrInvalidSettings)
	}
	return nil
}

// Masked hides all but the last four characters of a user key.
func (s Settings) Masked() Settings {
	if !s.HasAPIKey() {
		return s
	}
	key := s.APIKey
	if len(key) <= 4 {
		s.APIKey = strings.Repeat("*", len(key))
		return s
	}
	s.APIKey = strings.Repeat("*", len(key)-4) + key[len(key)-4:]
	return s
}

// SettingsPatch carries the fields a settings update touches.
type SettingsPatch struct {
	APIKey        *string  `json:"apiKey,omitempty"`
	LookbackChars *int     `json:"lookbackChars,omitempty"`
	MaxTokens     *int     `json:"maxTokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
}

// apply returns s with the patch applied. An apiKey equal to the masked
// form of the stored key is what a client echoes back from a settings read
// and leaves the key unchanged.
func (p SettingsPatch) apply(s Settings) Settings {
	if p.APIKey != nil {
		if key := strings.TrimSpace(*p.APIKey); key != s.Masked().APIKey {
			s.APIKey = key
		}
	}
	if p.LookbackChars != nil {
		s.LookbackChars = *p.LookbackChars
	}
	if p.MaxTokens != nil {
		s.MaxTokens = *p.MaxTokens
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	return s
}

type Stats struct {
	TokensUsed int `json:"tokensUsed"`
}

// CostEstimate is the approximate spend in dollars, rounded to cents.
func (s Stats) CostEstimate() float64 {
	return math.Round(float64(s.TokensUsed)/1000*costPerThousandTokens*100) / 100
}

// User identifies the profile towards the completion API. A negative
// RemainingCompletions means the server has not reported a quota yet.
type User struct {
	UUID                 string `json:"uuid"`
	RemainingCompletions int    `json:"remainingCompletions"`
}
