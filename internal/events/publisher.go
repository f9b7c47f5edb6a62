// Package events wraps the message publisher so domain services can emit
// lifecycle events without caring whether RabbitMQ is configured. All
// publishing is best-effort: failures are logged and never surface to the
// request path.
package events

import (
	"context"

	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/messaging"
)

// Publisher is nil-safe: a nil *Publisher drops every event silently,
// which is the behavior when RABBITMQ_URL is not set.
type Publisher struct {
	inner  *messaging.Publisher
	logger *logger.Logger
}

// New wraps a messaging publisher. Pass nil inner to disable publishing.
func New(inner *messaging.Publisher, log *logger.Logger) *Publisher {
	return &Publisher{inner: inner, logger: log}
}

// Emit publishes eventType with data. Never returns an error; a failed
// publish is logged and dropped.
func (p *Publisher) Emit(ctx context.Context, eventType string, data interface{}) {
	if p == nil || p.inner == nil {
		return
	}

	if err := p.inner.Publish(ctx, eventType, data); err != nil {
		p.logger.Warn().
			Err(err).
			Str("event_type", eventType).
			Msg("event publish failed, dropping")
	}
}
