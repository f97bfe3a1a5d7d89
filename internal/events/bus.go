package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Topic names a class of cross-component notification.
type Topic string

const (
	// LanguageChanged carries a LanguagePayload after a catalog switch.
	LanguageChanged Topic = "language-changed"

	// StatusUpdated carries the reconciled status view.
	StatusUpdated Topic = "status-updated"

	// ScanUpdated carries the QR pipeline snapshot after each transition.
	ScanUpdated Topic = "scan-updated"

	// VoucherChecked carries the outcome of a voucher check.
	VoucherChecked Topic = "voucher-checked"
)

// LanguagePayload is published on LanguageChanged.
type LanguagePayload struct {
	Lang string `json:"lang"`
}

// Handler receives published payloads.
type Handler func(payload any)

type subscription struct {
	id uint64
	fn Handler
}

// Bus is a synchronous topic based publish/subscribe hub. Handlers run on
// the publisher's goroutine in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscription
	logger zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[Topic][]subscription),
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subs[topic]
		for i, s := range subs {
			if s.id == id {
				b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers payload to every handler subscribed to topic. A handler
// that panics is logged and does not prevent delivery to the others.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(topic, s, payload)
	}
}

func (b *Bus) deliver(topic Topic, s subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("topic", string(topic)).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	s.fn(payload)
}
