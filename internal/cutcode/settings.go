package cutcode

import "maps"

// Settings is the per-operation parameter record shared by reference across
// every object in a group. Objects never mutate it.
type Settings struct {
	// Speed is the cutting speed in mm/s.
	Speed float64 `json:"speed"`
	// Power is laser power in per-mille (0-1000).
	Power float64 `json:"power"`
	// Frequency is the pulse frequency in kHz, for sources that support it.
	Frequency float64 `json:"frequency"`
	Passes    int     `json:"passes"`
	LineColor string  `json:"line_color,omitempty"`

	// Extra carries device-specific overrides that have no typed field.
	Extra map[string]string `json:"extra,omitempty"`
}

// DefaultSettings returns the settings used when an operation specifies none.
func DefaultSettings() *Settings {
	return &Settings{
		Speed:  20,
		Power:  1000,
		Passes: 1,
	}
}

// Clone returns a deep copy of s. A nil receiver yields DefaultSettings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return DefaultSettings()
	}
	c := *s
	c.Extra = maps.Clone(s.Extra)
	return &c
}

// Get returns an entry from the extension map.
func (s *Settings) Get(key string) (string, bool) {
	if s == nil || s.Extra == nil {
		return "", false
	}
	v, ok := s.Extra[key]
	return v, ok
}

// PowerOr returns the configured power, or fallback when unset.
func (s *Settings) PowerOr(fallback float64) float64 {
	if s == nil || s.Power <= 0 {
		return fallback
	}
	return s.Power
}
