// Package events provides the typed publish/subscribe bus that carries
// recording triggers between the detection sources and their consumers.
package events

import (
	"time"

	"github.com/google/uuid"
)

// TriggerSource identifies what produced a trigger.
type TriggerSource string

const (
	SourceMotion    TriggerSource = "motion"
	SourceDetection TriggerSource = "detection"
	SourceManual    TriggerSource = "manual"
)

// Trigger is an ephemeral event that drives the recording pipeline and the
// notification dispatcher.
type Trigger struct {
	ID         string
	Source     TriggerSource
	Timestamp  time.Time
	Confidence float64 // 0..1, zero when the source reports none
	Species    string  // empty for plain motion
	Urgent     bool    // bypasses quiet hours downstream
}

// NewTrigger creates a trigger stamped with the current time.
func NewTrigger(source TriggerSource) Trigger {
	return Trigger{
		ID:        uuid.New().String(),
		Source:    source,
		Timestamp: time.Now(),
	}
}

// NewDetection creates a detection trigger for a species sighting.
func NewDetection(species string, confidence float64) Trigger {
	t := NewTrigger(SourceDetection)
	t.Species = species
	t.Confidence = confidence
	return t
}
