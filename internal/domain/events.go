package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants for published paper events.
const (
	EventTypePaperResolved    = "paper.resolved"
	EventTypePaperUnavailable = "paper.unavailable"
)

// PaperEvent is published once a paper reaches a terminal status.
type PaperEvent struct {
	EventID      string      `json:"event_id"`
	EventType    string      `json:"event_type"`
	EventVersion int         `json:"event_version"`
	RunID        string      `json:"run_id,omitempty"`
	CanonicalID  string      `json:"canonical_id"`
	Venue        string      `json:"venue"`
	Year         int         `json:"year"`
	Title        string      `json:"title"`
	Status       PaperStatus `json:"status"`
	Source       SourceID    `json:"source,omitempty"`
	Abstract     string      `json:"abstract,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NewPaperEvent builds the event for a terminal paper.
func NewPaperEvent(runID string, p *Paper) *PaperEvent {
	eventType := EventTypePaperUnavailable
	if p.Status == StatusResolved {
		eventType = EventTypePaperResolved
	}

	return &PaperEvent{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		EventVersion: 1,
		RunID:        runID,
		CanonicalID:  p.CanonicalID(),
		Venue:        p.Venue,
		Year:         p.Year,
		Title:        p.Title,
		Status:       p.EffectiveStatus(),
		Source:       p.ResolvedSource,
		Abstract:     p.Abstract,
		CreatedAt:    time.Now().UTC(),
	}
}
