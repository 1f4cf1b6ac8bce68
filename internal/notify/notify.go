// Package notify delivers help request lifecycle notifications to
// supervisors and customers. Delivery is best effort: failures are logged
// and never affect the request state.
package notify

import (
	"context"
	"log/slog"
	"time"

	"frontdesk/internal/events"
)

type Notification struct {
	Type       string    `json:"type"`
	RequestID  string    `json:"request_id"`
	CustomerID string    `json:"customer_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer,omitempty"`
	At         time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// Multi fans a notification out to every sink in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
}

// Log writes notifications as structured log lines.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"type", n.Type, "request_id", n.RequestID, "customer_id", n.CustomerID}
	switch n.Type {
	case events.HelpRequestEscalated:
		logger.InfoContext(ctx, "supervisor notification", append(attrs, "question", n.Question)...)
	case events.HelpRequestResolved:
		logger.InfoContext(ctx, "follow-up to customer", append(attrs, "answer", n.Answer)...)
	case events.HelpRequestUnresolved:
		logger.InfoContext(ctx, "help request unresolved", append(attrs, "question", n.Question)...)
	default:
		logger.InfoContext(ctx, "notification", attrs...)
	}
}
