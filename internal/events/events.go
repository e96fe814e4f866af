// Package events carries the typed notification stream the pipeline emits
// while generating a scene. Subscribers receive session-scoped events in
// publish order; slow subscribers drop the oldest events rather than block
// the pipeline.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies one kind of pipeline event.
type Type string

const (
	TypePipelineStarted  Type = "pipeline-started"
	TypeStageUpdate      Type = "stage-update"
	TypeStageProgress    Type = "stage-progress"
	TypeValidationResult Type = "validation-result"
	TypePipelineReady    Type = "pipeline-ready"
	TypePipelineError    Type = "pipeline-error"
)

// Event is one pipeline notification. SequenceID is unique per emission, so
// a deliberately re-sent notification carries a fresh id and can be
// deduplicated from an accidental duplicate delivery.
type Event struct {
	Type       Type           `json:"type"`
	SessionID  string         `json:"sessionId"`
	SequenceID string         `json:"sequenceId"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload,omitempty"`
}

const subscriberBuffer = 64

type subscriber struct {
	sessionID string
	ch        chan Event
}

// Bus fans events out to per-session subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Publish stamps the event with a sequence id and timestamp and delivers it
// to every subscriber of the event's session. Publish never blocks; when a
// subscriber's buffer is full the oldest buffered event is dropped.
func (b *Bus) Publish(evt Event) Event {
	if evt.SequenceID == "" {
		evt.SequenceID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != evt.SessionID {
			continue
		}
		for {
			select {
			case sub.ch <- evt:
			default:
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
	return evt
}

// Subscribe registers a listener for one session's events. An empty session
// id subscribes to all sessions. The returned cancel func must be called to
// release the subscription; the channel is closed afterwards.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{sessionID: sessionID, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// SubscriberCount reports how many listeners are registered.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
