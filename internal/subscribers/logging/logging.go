package logging

import (
	"context"

	"github.com/rs/zerolog"

	"sessiongate.local/gateway/internal/events"
)

type Subscriber struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Subscriber {
	return &Subscriber{logger: logger.With().Str("subscriber", "logging").Logger()}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, n events.Notification) error {
	entry := s.logger.Info().
		Str("notification_id", n.ID).
		Str("notification_type", string(n.Type)).
		Str("tenant_id", n.TenantID).
		Time("occurred_at", n.OccurredAt)
	if n.Status != "" {
		entry = entry.Str("status", n.Status)
	}
	if n.Previous != "" {
		entry = entry.Str("previous_status", n.Previous)
	}
	if n.Detail != "" {
		entry = entry.Str("detail", n.Detail)
	}
	if n.Message != nil {
		entry = entry.Str("message_id", n.Message.ID).Str("from", n.Message.From)
	}
	entry.Msg("session notification")
	return nil
}
