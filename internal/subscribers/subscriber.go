package subscribers

import (
	"context"

	"sessiongate.local/gateway/internal/events"
)

type Subscriber interface {
	Name() string
	Handle(context.Context, events.Notification) error
}
