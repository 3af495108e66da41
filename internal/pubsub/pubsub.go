// Package pubsub is the fan-out backbone between webhook receivers and the
// SSE relays. Channels are colon-separated keys; subscriptions take glob
// patterns ("front:org:agent:conv:*").
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/logging"
)

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("pubsub: broker closed")

// Message is one delivery to a pattern subscription.
type Message struct {
	Channel string
	Pattern string
	Payload []byte
}

// Subscription delivers messages until closed. Messages is closed once the
// subscription ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Broker publishes to channels and subscribes to channel patterns. A broker
// is a process-wide handle: Connect before use, Close on shutdown.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, channel string, payload []byte) error
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}

// New builds the broker selected by cfg. The broker is not connected.
func New(cfg config.PubSubConfig, log *logging.Logger) (Broker, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(log), nil
	case "redis":
		return NewRedis(cfg.URL, log)
	default:
		return nil, fmt.Errorf("pubsub: unknown driver %q", cfg.Driver)
	}
}

// Channel joins key parts into a channel name.
func Channel(parts ...string) string {
	return strings.Join(parts, ":")
}
