// Package bus is an in-process publish/subscribe bus standing in for the
// NATS/JetStream deployment this module runs behind in production. It
// preserves the delivery semantics the rest of the system is written
// against — at-least-once, no ordering guarantee across subjects — so the
// orchestrator and its tests do not depend on whether a real broker is
// wired in.
package bus

import (
	"sync"
	"time"
)

// Subject names the three wire contracts in section 6 of the decision
// core's external interfaces.
type Subject string

const (
	// SubjectCandidates carries CandidateEvent payloads (inbound leaderboard
	// additions).
	SubjectCandidates Subject = "a.candidates.v1"
	// SubjectFills carries FillEvent payloads (inbound trader fills).
	SubjectFills Subject = "c.fills.v1"
	// SubjectScores carries ScoreEvent payloads (outbound Thompson-sampled
	// scores).
	SubjectScores Subject = "b.scores.v1"
)

// Message is an envelope delivered to subscribers. Payload is left as
// interface{} since subjects carry distinct concrete types; subscribers
// type-assert to the shape they expect.
type Message struct {
	Subject   Subject
	Timestamp time.Time
	Payload   interface{}
}

// Subscriber handles one delivered message. Subscribers run in their own
// goroutine per message, matching the teacher's EventBus fan-out, so a slow
// subscriber never blocks Publish or other subscribers.
type Subscriber func(Message)

// Bus manages subject subscriptions and delivery.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Subject][]Subscriber
	allSubs     []Subscriber
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[Subject][]Subscriber),
	}
}

// Subscribe registers a subscriber for one subject.
func (b *Bus) Subscribe(subject Subject, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[subject] = append(b.subscribers[subject], sub)
}

// SubscribeAll registers a subscriber for every subject, used by the
// operator dashboard's websocket stream.
func (b *Bus) SubscribeAll(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, sub)
}

// Publish delivers msg to every subscriber of its subject plus every
// all-subject subscriber. Delivery is at-least-once: subscribers must
// dedupe by the natural key of their payload (fill_id for fills).
func (b *Bus) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[msg.Subject] {
		go sub(msg)
	}
	for _, sub := range b.allSubs {
		go sub(msg)
	}
}

// PublishCandidate is a typed convenience wrapper over Publish.
func (b *Bus) PublishCandidate(c CandidateEvent) {
	b.Publish(Message{Subject: SubjectCandidates, Payload: c})
}

// PublishFill is a typed convenience wrapper over Publish.
func (b *Bus) PublishFill(f FillEvent) {
	b.Publish(Message{Subject: SubjectFills, Payload: f})
}

// PublishScore is a typed convenience wrapper over Publish.
func (b *Bus) PublishScore(s ScoreEvent) {
	b.Publish(Message{Subject: SubjectScores, Payload: s})
}
