package pipeline

import (
	"sync"

	"fabula/internal/events"
)

// Publisher is the slice of the event bus the pipeline needs.
type Publisher interface {
	Publish(evt events.Event) events.Event
}

// ProgressMapper translates stage-local fractions into the overall 0-100
// scale and emits stage-progress events. Reported progress never moves
// backwards within a stage; a retried stage is reset first.
type ProgressMapper struct {
	bus       Publisher
	sessionID string

	mu   sync.Mutex
	last map[StageID]float64
}

// NewProgressMapper builds a mapper bound to one session.
func NewProgressMapper(bus Publisher, sessionID string) *ProgressMapper {
	return &ProgressMapper{
		bus:       bus,
		sessionID: sessionID,
		last:      make(map[StageID]float64),
	}
}

// Emit maps fraction into the stage's progress slice and publishes it.
// It returns the overall percentage actually reported.
func (m *ProgressMapper) Emit(stage Stage, fraction float64, message string) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	pct := stage.ProgressStart + fraction*(stage.ProgressEnd-stage.ProgressStart)

	m.mu.Lock()
	if prev, ok := m.last[stage.ID]; ok && pct < prev {
		pct = prev
	}
	m.last[stage.ID] = pct
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      events.TypeStageProgress,
			SessionID: m.sessionID,
			Payload: map[string]any{
				"stage":    string(stage.ID),
				"percent":  pct,
				"fraction": fraction,
				"message":  message,
			},
		})
	}
	return pct
}

// Func adapts Emit to the runner callback signature.
func (m *ProgressMapper) Func(stage Stage) ProgressFunc {
	return func(fraction float64, message string) {
		m.Emit(stage, fraction, message)
	}
}

// Reset clears the monotonic floor for a stage ahead of a retry.
func (m *ProgressMapper) Reset(id StageID) {
	m.mu.Lock()
	delete(m.last, id)
	m.mu.Unlock()
}
