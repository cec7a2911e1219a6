package models

import (
	"strconv"
	"strings"
	"time"
)

// CreationDateLayout matches the ISO timestamps written by the browser surfaces.
const CreationDateLayout = "2006-01-02T15:04:05.000Z07:00"

type Category string

const (
	CategoryCalm         Category = "Calm"
	CategoryBalanced     Category = "Balanced"
	CategoryEnergetic    Category = "Energetic"
	CategoryElectrifying Category = "Electrifying"
)

// CategoryForLevel buckets a D-Level score. Out of range scores clamp to the
// nearest bucket.
func CategoryForLevel(level float64) Category {
	switch {
	case level <= 30:
		return CategoryCalm
	case level <= 65:
		return CategoryBalanced
	case level <= 85:
		return CategoryEnergetic
	default:
		return CategoryElectrifying
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryCalm, CategoryBalanced, CategoryEnergetic, CategoryElectrifying:
		return true
	}
	return false
}

type DopamineType struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

type SubScore struct {
	Score    float64 `json:"score"`
	Analysis string  `json:"analysis"`
}

type DepthScore struct {
	Index    string  `json:"index"` // Low, Medium or High
	Score    float64 `json:"score"`
	Analysis string  `json:"analysis"`
}

type TextAnalysis struct {
	Analysis string `json:"analysis"`
}

// AnalysisRecord is the normalized result of a remote analysis, stored in the
// persistent area under its video ID.
type AnalysisRecord struct {
	CreationDate            string         `json:"creationDate,omitempty"`
	Title                   string         `json:"title"`
	VideoID                 string         `json:"videoId,omitempty"`
	ChannelName             string         `json:"channelName,omitempty"`
	Verdict                 string         `json:"verdict"`
	DLevel                  float64        `json:"dLevel"`
	DLevelCategory          Category       `json:"dLevelCategory"`
	DopamineTypes           []DopamineType `json:"dopamineTypes"`
	NeuralOverdrive         SubScore       `json:"neuralOverdrive"`
	EmotionalCoherence      SubScore       `json:"emotionalCoherence"`
	CognitiveDepth          DepthScore     `json:"cognitiveDepth"`
	IntentStimulusAlignment SubScore       `json:"intentStimulusAlignment"`
	RhythmicAnalysis        TextAnalysis   `json:"rhythmicAnalysis"`
	DLevelJustification     string         `json:"dLevelJustification"`
	FullAnalysis            string         `json:"fullAnalysis"`
}

// CreatedAt parses CreationDate. The second result is false when the record
// has no usable timestamp.
func (r *AnalysisRecord) CreatedAt() (time.Time, bool) {
	s := strings.TrimSpace(r.CreationDate)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{CreationDateLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LevelText formats DLevel for display, "N/A" when the score is missing.
func (r *AnalysisRecord) LevelText() string {
	if r.DLevel == 0 {
		return "N/A"
	}
	return strconv.FormatFloat(r.DLevel, 'f', -1, 64)
}

// Stamp sets CreationDate when it is empty.
func (r *AnalysisRecord) Stamp(now time.Time) {
	if strings.TrimSpace(r.CreationDate) == "" {
		r.CreationDate = now.UTC().Format(CreationDateLayout)
	}
}

// Tab is an open page known to the relay.
type Tab struct {
	ID            int       `json:"id"`
	URL           string    `json:"url"`
	SidePanelOpen bool      `json:"sidePanelOpen"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
