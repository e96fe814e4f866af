package pipeline

import (
	"sync"
	"time"

	"fabula/internal/events"
)

// ReadyNotifier announces a finished run and watches for the client's
// acknowledgement. If no acknowledgement arrives within the watchdog window
// the announcement is re-sent exactly once, marked as a retry and carrying a
// fresh sequence id.
type ReadyNotifier struct {
	bus    Publisher
	window time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	acked  bool
	resent bool
}

// NewReadyNotifier builds a notifier with the given watchdog window.
func NewReadyNotifier(bus Publisher, window time.Duration) *ReadyNotifier {
	return &ReadyNotifier{bus: bus, window: window}
}

// Announce publishes the ready event and arms the watchdog.
func (n *ReadyNotifier) Announce(sessionID string, payload map[string]any) events.Event {
	evt := n.publish(sessionID, payload, false)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.acked || n.timer != nil || n.window <= 0 {
		return evt
	}
	n.timer = time.AfterFunc(n.window, func() {
		n.resend(sessionID, payload)
	})
	return evt
}

func (n *ReadyNotifier) resend(sessionID string, payload map[string]any) {
	n.mu.Lock()
	if n.acked || n.resent {
		n.mu.Unlock()
		return
	}
	n.resent = true
	n.mu.Unlock()

	// One resend only; the watchdog is not re-armed.
	n.publish(sessionID, payload, true)
}

func (n *ReadyNotifier) publish(sessionID string, payload map[string]any, isRetry bool) events.Event {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["isRetry"] = isRetry
	return n.bus.Publish(events.Event{
		Type:      events.TypePipelineReady,
		SessionID: sessionID,
		Payload:   body,
	})
}

// Ack records the client's acknowledgement and disarms the watchdog.
func (n *ReadyNotifier) Ack() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.acked = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// Stop disarms the watchdog without marking the run acknowledged.
func (n *ReadyNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// Acked reports whether the client confirmed receipt.
func (n *ReadyNotifier) Acked() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.acked
}
