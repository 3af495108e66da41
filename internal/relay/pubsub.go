package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/metrics"
	"github.com/soyeahso/handoff/internal/pubsub"
	"github.com/soyeahso/handoff/internal/sse"
)

// Subscriber is the part of a broker the pub/sub relay uses.
type Subscriber interface {
	PSubscribe(ctx context.Context, pattern string) (pubsub.Subscription, error)
}

// Frame is one relayed pub/sub delivery.
type Frame struct {
	Message json.RawMessage `json:"message"`
	Channel string          `json:"channel"`
}

// PubSub relays messages published on a channel pattern (webhook-driven
// vendors: Zendesk, Front).
type PubSub struct {
	Broker    Subscriber
	Pattern   string
	Vendor    string
	KeepAlive time.Duration
	Log       *logging.Logger
}

// Run subscribes and relays until ctx ends or the subscription closes.
// Undecodable payloads are logged and skipped.
func (r *PubSub) Run(ctx context.Context, w *sse.Writer) error {
	log := r.Log
	if log == nil {
		log = logging.Nop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := r.Broker.PSubscribe(ctx, r.Pattern)
	if err != nil {
		log.Error().Err(err).Str("pattern", r.Pattern).Msg("subscribe failed")
		return err
	}
	defer sub.Close()

	metrics.ActiveStreams.WithLabelValues(r.Vendor).Inc()
	defer metrics.ActiveStreams.WithLabelValues(r.Vendor).Dec()
	log.Debug().Str("pattern", r.Pattern).Msg("relay subscribed")

	if err := w.Open(); err != nil {
		log.Debug().Err(err).Msg("client went away before stream opened")
		return nil
	}
	stop := startHeartbeat(ctx, w, r.KeepAlive, cancel, log)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if !json.Valid(msg.Payload) {
				log.Warn().Str("channel", msg.Channel).Int("bytes", len(msg.Payload)).Msg("dropping malformed payload")
				metrics.DroppedPayloadsTotal.WithLabelValues(r.Vendor).Inc()
				continue
			}
			if err := w.Data(Frame{Message: msg.Payload, Channel: msg.Channel}); err != nil {
				log.Debug().Err(err).Msg("client went away")
				return nil
			}
			metrics.RelayedEventsTotal.WithLabelValues(r.Vendor).Inc()
		}
	}
}
