package channels

import (
	"context"

	"github.com/corvidrun/corvid/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context, b *bus.MessageBus) error
	Stop() error
}
