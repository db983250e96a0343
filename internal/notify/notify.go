// Package notify pushes short operator-facing text messages.
//
// Notifications are best effort: implementations log their own failures
// and never return them to the caller.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier sends one text message.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by log.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(_ context.Context, text string) {
	n.logger.Info("notification", zap.String("text", text))
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, text string) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, text)
		}
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}
