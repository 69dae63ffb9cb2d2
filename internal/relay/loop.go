// Package relay connects the message bus to the dispatcher: it takes each
// inbound event, dispatches it, resolves where every reply goes and hands the
// resulting messages back to the bus.
package relay

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"linkbot/internal/dispatch"
	"linkbot/internal/domain"
	"linkbot/internal/metrics"

	"github.com/google/uuid"
)

// Loop relays events one at a time, in arrival order.
type Loop struct {
	dispatcher      *dispatch.Dispatcher
	bus             domain.MessageBus
	feedbackChannel string
	logger          *slog.Logger
}

// LoopConfig holds the dependencies of a relay loop.
type LoopConfig struct {
	Dispatcher      *dispatch.Dispatcher
	Bus             domain.MessageBus
	FeedbackChannel string // chat id of the operator channel
	Logger          *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		dispatcher:      cfg.Dispatcher,
		bus:             cfg.Bus,
		feedbackChannel: cfg.FeedbackChannel,
		logger:          cfg.Logger,
	}
}

// Run consumes inbound events until ctx is cancelled or the bus is closed.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("relay loop started", "rules", l.dispatcher.RuleNames())

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("relay loop stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, relay loop stopping")
				return
			}
			l.Handle(ev)
		}
	}
}

// Handle dispatches one event and sends its replies. It returns the
// messages it sent, in order.
func (l *Loop) Handle(ev domain.InboundEvent) []domain.OutboundMessage {
	logger := l.logger.With(
		"event_id", uuid.NewString(),
		"channel", ev.Transport(),
		"kind", ev.Kind(),
		"user_id", ev.From().ID,
	)
	if at := ev.Received(); !at.IsZero() {
		logger = logger.With("age", time.Since(at).Round(time.Millisecond))
	}
	logger.Debug("event received", "content_len", len(ev.Content()))
	metrics.EventsTotal(string(ev.Kind())).Inc()

	start := time.Now()
	res := l.dispatcher.Dispatch(ev)
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())

	if res.Err != nil {
		metrics.HandlerFailures.Inc()
		logger.Warn("event answered with apology", "rule", res.Rule, "err", res.Err)
	}

	sent := make([]domain.OutboundMessage, 0, len(res.Replies))
	for _, r := range res.Replies {
		msg, ok := l.resolve(ev, r)
		if !ok {
			logger.Error("reply dropped: no destination", "to", r.To.String())
			continue
		}
		l.bus.SendOutbound(msg)
		metrics.OutboundTotal(r.To.String()).Inc()
		sent = append(sent, msg)
	}

	logger.Info("event relayed", "rule", res.Rule, "replies", len(sent))
	return sent
}

func (l *Loop) resolve(ev domain.InboundEvent, r domain.Reply) (domain.OutboundMessage, bool) {
	msg := domain.OutboundMessage{
		Channel: ev.Transport(),
		Content: r.Text,
		Format:  r.Format,
	}
	switch r.To {
	case domain.SenderReply:
		msg.ChatID = strconv.FormatInt(ev.From().ChatID, 10)
	case domain.FeedbackChannel:
		if l.feedbackChannel == "" {
			return msg, false
		}
		msg.ChatID = l.feedbackChannel
	default:
		return msg, false
	}
	return msg, true
}
