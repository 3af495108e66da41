package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/metrics"
	"github.com/soyeahso/handoff/internal/platform/messaging"
	"github.com/soyeahso/handoff/internal/sse"
)

// EventStream is an open upstream SSE connection.
type EventStream interface {
	Next() (sse.Event, error)
	Close() error
}

// StreamOpener connects to the upstream event stream, resuming after
// lastEventID when non-empty.
type StreamOpener func(ctx context.Context, lastEventID string) (EventStream, error)

// MessagingPassthrough re-frames the Messaging event router stream: every
// upstream event becomes data: {"event": name, "data": payload}.
type MessagingPassthrough struct {
	Open        StreamOpener
	LastEventID string
	KeepAlive   time.Duration
	Log         *logging.Logger
}

func (r *MessagingPassthrough) Run(ctx context.Context, w *sse.Writer) error {
	log := r.Log
	if log == nil {
		log = logging.Nop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.Open(ctx, r.LastEventID)
	if err != nil {
		log.Error().Err(err).Msg("opening event stream failed")
		return err
	}
	// Next blocks on the network; closing the stream unblocks it.
	go func() {
		<-ctx.Done()
		stream.Close()
	}()

	metrics.ActiveStreams.WithLabelValues("salesforce-messaging").Inc()
	defer metrics.ActiveStreams.WithLabelValues("salesforce-messaging").Dec()

	if err := w.Open(); err != nil {
		log.Debug().Err(err).Msg("client went away before stream opened")
		return nil
	}
	stop := startHeartbeat(ctx, w, r.KeepAlive, cancel, log)
	defer stop()

	for {
		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			log.Error().Err(err).Msg("event stream failed, closing")
			return err
		}
		if ev.Data == "" {
			continue
		}

		name := ev.Name
		if name == "" {
			name = "message"
		}
		data := json.RawMessage(ev.Data)
		if !json.Valid(data) {
			quoted, _ := json.Marshal(ev.Data)
			data = quoted
		}
		if err := w.Data(messaging.Envelope{Event: name, Data: data}); err != nil {
			log.Debug().Err(err).Msg("client went away")
			return nil
		}
		metrics.RelayedEventsTotal.WithLabelValues("salesforce-messaging").Inc()
	}
}
