// Package relay bridges vendor transports (long-poll, pub/sub, upstream SSE)
// into the uniform SSE stream the widget consumes. A relay runs until the
// client disconnects or the vendor side ends, logs failures and returns;
// nothing crosses the SSE boundary except data frames and keep-alives.
package relay

import (
	"context"
	"time"

	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/sse"
)

// DefaultKeepAlive is the idle comment interval for push-based relays.
const DefaultKeepAlive = 30 * time.Second

// Relay streams events to one client. Run opens w once its upstream is
// ready; an error returned before that leaves the response uncommitted.
type Relay interface {
	Run(ctx context.Context, w *sse.Writer) error
}

// startHeartbeat writes keep-alive comments every interval until the
// returned stop is called or ctx ends. A failed write cancels the stream
// through cancel. stop returns once the heartbeat goroutine has exited, so
// no write can reach the response after the relay returns.
func startHeartbeat(ctx context.Context, w *sse.Writer, interval time.Duration, cancel context.CancelFunc, log *logging.Logger) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		runHeartbeat(ctx, w, interval, done, cancel, log)
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func runHeartbeat(ctx context.Context, w *sse.Writer, interval time.Duration, done <-chan struct{}, cancel context.CancelFunc, log *logging.Logger) {
	if interval <= 0 {
		interval = DefaultKeepAlive
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := w.KeepAlive(); err != nil {
				log.Debug().Err(err).Msg("keep-alive write failed, closing stream")
				cancel()
				return
			}
		}
	}
}
