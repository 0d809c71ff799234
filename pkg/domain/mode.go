package domain

import "time"

// Mode names a pipeline. The set is closed.
type Mode string

const (
	ModeResearch Mode = "research"
	ModeProject  Mode = "project"
	ModeLearn    Mode = "learn"
)

// Modes returns every known mode in a stable order.
func Modes() []Mode {
	return []Mode{ModeResearch, ModeProject, ModeLearn}
}

// Valid reports whether m belongs to the closed set of modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeResearch, ModeProject, ModeLearn:
		return true
	}
	return false
}

// ParseMode converts user input into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", &ConfigurationError{Subject: "mode", Reason: "unknown mode " + s}
	}
	return m, nil
}

// Slot is the record of the model currently resident on the accelerator.
// At most one exists at any instant.
type Slot struct {
	Model       string    `json:"model"`
	FootprintMB int       `json:"footprint_mb"`
	LoadedAt    time.Time `json:"loaded_at"`
	Requester   string    `json:"requester"`
}

// Evidence is a single ranked retrieval result.
type Evidence struct {
	Title      string  `json:"title" mapstructure:"title"`
	URL        string  `json:"url" mapstructure:"url"`
	Content    string  `json:"content" mapstructure:"content"`
	Relevance  float64 `json:"relevance" mapstructure:"relevance"`
	CitationID string  `json:"citation_id,omitempty" mapstructure:"citation_id"`
}
