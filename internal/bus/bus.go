// Package bus carries inbound events from transports to the relay loop and
// routes outbound messages back to the transport that owns the chat.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"linkbot/internal/domain"
)

// defaultBackpressure bounds how long a transport blocks on a full queue.
const defaultBackpressure = 10 * time.Second

// InMemoryBus implements domain.MessageBus for a single process.
type InMemoryBus struct {
	events chan domain.InboundEvent

	mu      sync.RWMutex
	senders map[string]func(domain.OutboundMessage)
	closed  bool

	logger  *slog.Logger
	timeout time.Duration // backpressure limit for Publish
}

// New returns a bus whose inbound queue holds queueSize events (100 if <= 0).
func New(queueSize int, logger *slog.Logger) *InMemoryBus {
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		events:  make(chan domain.InboundEvent, queueSize),
		senders: make(map[string]func(domain.OutboundMessage)),
		logger:  logger,
		timeout: defaultBackpressure,
	}
}

// Publish queues ev for the relay. When the queue is full it waits up to
// the backpressure limit and then drops the event.
func (b *InMemoryBus) Publish(ev domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Debug("event after close ignored", "channel", ev.Transport(), "kind", ev.Kind())
		return
	}

	select {
	case b.events <- ev:
		return
	default:
	}

	waitStart := time.Now()
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case b.events <- ev:
		b.logger.Warn("relay lagging, event queued late",
			"channel", ev.Transport(), "waited", time.Since(waitStart))
	case <-timer.C:
		b.logger.Error("relay queue full, event lost",
			"channel", ev.Transport(),
			"kind", ev.Kind(),
			"user_id", ev.From().ID,
			"queue_size", cap(b.events),
		)
	}
}

// Subscribe returns the inbound queue. It is closed by Close.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.events
}

// SendOutbound hands msg to the sender registered for msg.Channel.
// Messages for an unknown channel are logged and discarded.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	send := b.senders[msg.Channel]
	b.mu.RUnlock()

	if send == nil {
		b.logger.Error("outbound message for unregistered transport discarded",
			"channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	send(msg)
}

// OnOutbound registers the sender for channelName, replacing any earlier one.
func (b *InMemoryBus) OnOutbound(channelName string, send func(domain.OutboundMessage)) {
	b.mu.Lock()
	b.senders[channelName] = send
	b.mu.Unlock()
}

// Close stops accepting events and closes the inbound queue. Safe to call twice.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}
