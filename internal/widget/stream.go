package widget

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/sse"
)

// relayFrame is the envelope pub/sub relays wrap vendor events in.
type relayFrame struct {
	Message json.RawMessage `json:"message"`
	Channel string          `json:"channel"`
}

// startStreamLocked opens the event stream unless one is already running.
// Callers hold mu.
func (s *Session) startStreamLocked() {
	if s.closed || s.state.IsConnected || s.state.Status != domain.StatusInitialized {
		return
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.streamID++
	id := s.streamID
	s.cancelStream = cancel
	s.state.IsConnected = true
	tok := s.state.AuthToken

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runStream(ctx, id, tok)
	}()
}

// abortStreamLocked cancels the running stream and any pending reconnect.
// Callers hold mu.
func (s *Session) abortStreamLocked() {
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.streamID++
	s.state.IsConnected = false
}

func (s *Session) runStream(ctx context.Context, id uint64, tok string) {
	err := s.consume(ctx, id, tok)

	switch {
	case ctx.Err() != nil:
		// Aborted by End, Initialize or Close.
		return
	case err != nil:
		s.log.Warn().Err(err).Msg("handoff stream failed, ending handoff")
		s.mu.Lock()
		current := id == s.streamID
		if current {
			s.state.IsConnected = false
		}
		s.mu.Unlock()
		if current {
			s.End()
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.streamID {
		return
	}
	s.state.IsConnected = false
	s.cancelStream = nil
	if s.closed || s.state.Status != domain.StatusInitialized {
		return
	}
	s.log.Debug().Dur("delay", s.reconnectDelay).Msg("handoff stream dropped, reconnecting")
	s.reconnect = time.AfterFunc(s.reconnectDelay, s.reopen)
}

// reopen is the reconnect timer callback.
func (s *Session) reopen() {
	s.mu.Lock()
	s.reconnect = nil
	s.startStreamLocked()
	s.mu.Unlock()
}

// consume reads stream id until it ends. A clean close returns nil.
func (s *Session) consume(ctx context.Context, id uint64, tok string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+s.strategy.MessagesEndpoint(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	s.setHeaders(req, tok)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("open stream", resp)
	}

	rd := sse.NewReader(resp.Body)
	for {
		ev, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Data == "" {
			continue
		}
		s.handleEvent(id, unwrapFrame(json.RawMessage(ev.Data)))
	}
}

// unwrapFrame returns the vendor event inside a pub/sub relay frame, or the
// data unchanged when it is not one.
func unwrapFrame(data json.RawMessage) json.RawMessage {
	var f relayFrame
	if err := json.Unmarshal(data, &f); err != nil || f.Channel == "" || len(f.Message) == 0 {
		return data
	}
	return f.Message
}
