// Package dispatch routes classified inbound events to their handlers.
//
// Routing is an explicit, ordered list of rules evaluated first-match-wins,
// followed by an observer that runs for every event regardless of which rule
// matched. Handlers only build replies; delivering them is the caller's job.
package dispatch

import (
	"fmt"
	"log/slog"

	"linkbot/internal/domain"
)

// HandlerFunc turns an event into replies.
type HandlerFunc func(ev domain.InboundEvent) ([]domain.Reply, error)

// Rule pairs a predicate with the handler that runs when it matches.
type Rule struct {
	Name   string
	Match  func(domain.InboundEvent) bool
	Handle HandlerFunc
}

// Result is the outcome of dispatching one event.
type Result struct {
	Rule    string         // matched rule, "" if none matched
	Replies []domain.Reply // rule replies first, observer replies last
	Err     error          // contained handler failure, if any
}

// Dispatcher is immutable after construction and safe for concurrent use.
type Dispatcher struct {
	rules    []Rule
	observer HandlerFunc
	logger   *slog.Logger
}

// New returns a Dispatcher with the bot's standard rules:
// /start, /help, document upload, feedback text, unknown command,
// plus the operator log observer.
func New(settings Settings, logger *slog.Logger) *Dispatcher {
	h := newHandlers(settings)
	return NewWithRules(h.rules(), h.logEvent, logger)
}

// NewWithRules builds a Dispatcher from an explicit rule list. observer may be nil.
func NewWithRules(rules []Rule, observer HandlerFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		rules:    append([]Rule(nil), rules...),
		observer: observer,
		logger:   logger,
	}
}

// RuleNames lists the rules in evaluation order.
func (d *Dispatcher) RuleNames() []string {
	names := make([]string, len(d.rules))
	for i, r := range d.rules {
		names[i] = r.Name
	}
	return names
}

// Dispatch runs the first matching rule and then the observer.
// A failing rule handler is replaced by a single apology reply to the sender;
// a failing observer is only logged. Dispatch never panics on handler errors.
func (d *Dispatcher) Dispatch(ev domain.InboundEvent) Result {
	var res Result

	for _, r := range d.rules {
		if !r.Match(ev) {
			continue
		}
		res.Rule = r.Name
		replies, err := invoke(r.Name, r.Handle, ev)
		if err != nil {
			d.logger.Error("handler failed",
				"rule", r.Name,
				"kind", ev.Kind(),
				"user_id", ev.From().ID,
				"err", err,
			)
			res.Err = err
			replies = []domain.Reply{apology()}
		}
		res.Replies = append(res.Replies, replies...)
		break
	}

	if d.observer != nil {
		replies, err := invoke("observer", d.observer, ev)
		if err != nil {
			d.logger.Error("observer failed", "kind", ev.Kind(), "user_id", ev.From().ID, "err", err)
			if res.Err == nil {
				res.Err = err
			}
		} else {
			res.Replies = append(res.Replies, replies...)
		}
	}

	return res
}

func invoke(name string, h HandlerFunc, ev domain.InboundEvent) (replies []domain.Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			replies = nil
			err = fmt.Errorf("handler %s panicked: %v", name, r)
		}
	}()
	return h(ev)
}

// IsCommand matches a Command with the given name.
func IsCommand(name string) func(domain.InboundEvent) bool {
	return func(ev domain.InboundEvent) bool {
		c, ok := ev.(domain.Command)
		return ok && c.Name == name
	}
}

// IsKind matches any event of the given kind.
func IsKind(kind domain.EventKind) func(domain.InboundEvent) bool {
	return func(ev domain.InboundEvent) bool {
		return ev.Kind() == kind
	}
}
