package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// envelope is the wire shape of every SSE data payload.
type envelope struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Data      any    `json:"data"`
}

// Broker fans pipeline events out to the SSE clients subscribed to a
// subject. Slow clients are skipped rather than blocking the feed.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]map[chan []byte]struct{}
	logger  *zap.Logger
	now     func() time.Time
}

// NewBroker returns an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		clients: make(map[string]map[chan []byte]struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

// Subscribe registers a client for a subject's events. The returned
// channel is closed by Unsubscribe.
func (b *Broker) Subscribe(subject string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	subs, ok := b.clients[subject]
	if !ok {
		subs = make(map[chan []byte]struct{})
		b.clients[subject] = subs
	}
	subs[ch] = struct{}{}
	n := len(subs)
	b.mu.Unlock()

	b.logger.Debug("sse client subscribed",
		zap.String("subject", subject),
		zap.Int("listeners", n))
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(subject string, ch chan []byte) {
	b.mu.Lock()
	if subs, ok := b.clients[subject]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(b.clients, subject)
		}
	}
	b.mu.Unlock()

	b.logger.Debug("sse client unsubscribed", zap.String("subject", subject))
}

// Listeners reports how many clients are subscribed to a subject.
func (b *Broker) Listeners(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[subject])
}

// message wraps data in the event envelope and formats the complete
// SSE message for eventType.
func (b *Broker) message(eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(envelope{
		Timestamp: b.now().UTC().Format(time.RFC3339Nano),
		Type:      eventType,
		Data:      data,
	})
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload)), nil
}

// Broadcast wraps data in the event envelope and delivers it to every
// subscriber of the subject.
func (b *Broker) Broadcast(subject, eventType string, data any) {
	msg, err := b.message(eventType, data)
	if err != nil {
		b.logger.Error("marshal event payload",
			zap.String("event", eventType),
			zap.Error(err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients[subject] {
		select {
		case ch <- msg:
		default:
			// Buffer full, the client is not keeping up.
		}
	}
}
