// Package notify escalates core events (feed exhaustion, detected
// opportunities, order outcomes, risk alerts) to operator channels. Each
// sender renders the notification in its channel's native format; the
// Notifier decides which events reach operators at all.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event types the core escalates. The notify.events config list selects the
// subset operators want delivered.
const (
	EventFeedGivenUp   = "feed_given_up"
	EventOpportunity   = "opportunity"
	EventOrderFilled   = "order_filled"
	EventOrderRejected = "order_rejected"
	EventRiskAlert     = "risk_alert"
)

// Notification is one operator-facing message. Event drives per-channel
// presentation (badge, color); Title and Body carry the text.
type Notification struct {
	Event string
	Title string
	Body  string
	At    time.Time
}

// Sender delivers a notification over one channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	// Name identifies the channel in logs ("telegram", "discord").
	Name() string
}

// Notifier filters events against the configured allow-list and fans the
// surviving notifications out to every sender.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{} // empty means every event passes
	logger  *slog.Logger
}

// NewNotifier builds a Notifier over the given senders. events lists the
// event types to deliver; an empty list delivers everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers the event to every sender if it passes the allow-list.
func (n *Notifier) Notify(ctx context.Context, event, title, body string) error {
	if len(n.allowed) > 0 {
		if _, ok := n.allowed[event]; !ok {
			n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
			return nil
		}
	}
	return n.dispatch(ctx, Notification{
		Event: event,
		Title: title,
		Body:  body,
		At:    time.Now().UTC(),
	})
}

// NotifyAll bypasses the allow-list. Used for messages that must always
// reach operators, like shutdown announcements.
func (n *Notifier) NotifyAll(ctx context.Context, title, body string) error {
	return n.dispatch(ctx, Notification{Title: title, Body: body, At: time.Now().UTC()})
}

// dispatch sends to every sender; one failing channel does not stop the
// others. Failures come back joined.
func (n *Notifier) dispatch(ctx context.Context, msg Notification) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
			slog.String("title", msg.Title),
		)
	}
	return errors.Join(errs...)
}
