// Package events is the in-process fan-out between the run loop and its
// listeners (websocket clients, desktop notifications). Publishing never
// blocks the run: a slow subscriber drops events rather than stalling an
// iteration.
package events

import (
	"sync"
	"time"
)

const (
	TypeApprovalRequired  = "approval_required"
	TypeApprovalResolved  = "approval_resolved"
	TypeIterationComplete = "iteration_complete"
	TypePhaseComplete     = "phase_complete"
)

// Event is one item on the notification stream.
type Event struct {
	Type         string    `json:"type"`
	RunID        string    `json:"run_id,omitempty"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	Payload      any       `json:"payload,omitempty"`
	At           time.Time `json:"at"`
}

const subscriberBuffer = 16

// Broker fans events out to subscribers.
type Broker struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func must be called
// to release the subscription.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Broker) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}
