// Package widget drives one end user's live-agent handoff against the relay
// server: conversation init, the event stream with reconnect, sends, and
// teardown.
package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/handoff"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/version"
)

var (
	ErrNoStrategy     = errors.New("widget: handoff is not configured for this agent")
	ErrNotInitialized = errors.New("widget: handoff is not initialized")
	ErrClosed         = errors.New("widget: session closed")
	ErrMissingToken   = errors.New("widget: conversation response carried no auth token")
)

const (
	defaultReconnectDelay = 500 * time.Millisecond
	passControlTimeout    = 10 * time.Second
)

// StatusError is a non-2xx answer from the relay server.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("widget: %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("widget: %s failed with status %d: %s", e.Op, e.Status, e.Body)
}

// Config addresses one agent on a relay server.
type Config struct {
	BaseURL        string
	AgentID        string
	OrganizationID string
	// Subject is sent in the strategy's subject header, when it has one.
	Subject string
	Handoff config.ClientSafeHandoffConfig
}

// InitParams is what the user brings to a new handoff.
type InitParams struct {
	Messages         []domain.Message
	SignedUserData   string
	UnsignedUserData map[string]string
	UserAgent        string
	ScreenResolution string
	Language         string
	CustomData       map[string]string
	Email            string
}

// Session is the client handoff state machine. Status cycles
// NOT_INITIALIZED, INITIALIZING, INITIALIZED and back; the event log only
// grows. All methods are safe for concurrent use.
type Session struct {
	cfg            Config
	strategy       handoff.Strategy
	client         *http.Client
	log            *logging.Logger
	now            func() time.Time
	reconnectDelay time.Duration
	onChange       func(domain.HandoffState)

	mu           sync.Mutex
	state        domain.HandoffState
	signed       string
	unsigned     map[string]string
	streamID     uint64
	cancelStream context.CancelFunc
	reconnect    *time.Timer
	closed       bool
	wg           sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient sets the client used for relay calls. It must not carry an
// overall timeout since streams are long-lived.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		s.client = c
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithReconnectDelay sets the backoff before reopening a dropped stream.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Session) {
		s.reconnectDelay = d
	}
}

// WithOnChange registers a callback that receives a snapshot after every
// state change. It may be called from several goroutines.
func WithOnChange(fn func(domain.HandoffState)) Option {
	return func(s *Session) {
		s.onChange = fn
	}
}

// New creates a session. The strategy is picked once from cfg.Handoff; a
// disabled or unknown handoff type leaves the session without one.
func New(cfg Config, opts ...Option) *Session {
	s := &Session{
		cfg:            cfg,
		client:         &http.Client{},
		log:            logging.Nop(),
		now:            time.Now,
		reconnectDelay: defaultReconnectDelay,
		state:          domain.HandoffState{Status: domain.StatusNotInitialized, Events: []domain.HandoffEvent{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Sub("widget")
	s.cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	s.strategy = handoff.NewStrategy(cfg.Handoff, handoff.WithClock(s.now))
	return s
}

// Strategy returns the platform strategy, or nil when handoff is disabled.
func (s *Session) Strategy() handoff.Strategy { return s.strategy }

// State returns a snapshot of the session.
func (s *Session) State() domain.HandoffState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// ShowTyping reports whether the agent typing indicator should be shown.
func (s *Session) ShowTyping() bool {
	if s.strategy == nil {
		return false
	}
	st := s.State()
	return s.strategy.ShowAgentTypingIndicator(st.Events)
}

// SuppressInput reports whether the message input should be hidden.
func (s *Session) SuppressInput() bool {
	if s.strategy == nil {
		return false
	}
	st := s.State()
	return s.strategy.ShouldSuppressInputDisplay(st.AgentName)
}

// snapshot copies the state. Callers hold mu.
func (s *Session) snapshot() domain.HandoffState {
	st := s.state
	st.Events = append([]domain.HandoffEvent(nil), s.state.Events...)
	return st
}

func (s *Session) changed(st domain.HandoffState) {
	if s.onChange != nil {
		s.onChange(st)
	}
}

// Initialize starts a handoff: the conversation is created on the vendor,
// then the event stream is opened. Any failure ends the handoff and leaves
// the session NOT_INITIALIZED.
func (s *Session) Initialize(ctx context.Context, p InitParams) error {
	if s.strategy == nil {
		s.log.Error().Str("agent", s.cfg.AgentID).Msg("handoff requested without a configured strategy")
		return ErrNoStrategy
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.abortStreamLocked()
	s.state.Status = domain.StatusInitializing
	s.state.Error = ""
	s.signed = p.SignedUserData
	s.unsigned = p.UnsignedUserData
	st := s.snapshot()
	s.mu.Unlock()
	s.changed(st)

	tok, err := s.createConversation(ctx, p)
	if err != nil {
		s.log.Warn().Err(err).Str("vendor", string(s.strategy.Type())).Msg("handoff initialization failed")
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.state.Status != domain.StatusInitializing || s.closed {
		// Ended while the request was in flight; release what was created.
		s.notifyLocked(tok)
		s.mu.Unlock()
		return ErrNotInitialized
	}
	s.state.AuthToken = tok
	s.state.Status = domain.StatusInitialized
	connType := s.strategy.ConnectedToAgentMessageType()
	if connType == "" {
		connType = domain.EventHandoffConnected
	}
	s.state.Events = append(s.state.Events, domain.NewEvent(connType, s.cfg.Handoff.ConnectingMessage, s.now()))
	s.startStreamLocked()
	st = s.snapshot()
	s.mu.Unlock()
	s.changed(st)

	s.log.Info().Str("vendor", string(s.strategy.Type())).Msg("handoff initialized")
	return nil
}

func (s *Session) createConversation(ctx context.Context, p InitParams) (string, error) {
	body := map[string]any{
		"messages":         transcriptEligible(p.Messages),
		"signedUserData":   p.SignedUserData,
		"unsignedUserData": p.UnsignedUserData,
		"userAgent":        p.UserAgent,
		"screenResolution": p.ScreenResolution,
		"language":         p.Language,
		"customData":       p.CustomData,
	}
	if p.UserAgent == "" {
		body["userAgent"] = version.UserAgent()
	}
	if p.Email != "" {
		body["email"] = p.Email
	}
	resp, err := s.post(ctx, s.strategy.ConversationsEndpoint(), "", body)
	if err != nil {
		return "", fmt.Errorf("widget: initialize handoff: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError("initialize handoff", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	tok := resp.Header.Get(handoff.HeaderAuthToken)
	if tok == "" {
		return "", ErrMissingToken
	}
	return tok, nil
}

func transcriptEligible(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.TranscriptEligible() {
			out = append(out, m)
		}
	}
	return out
}

// HandleChatEvent interprets one stream event through the strategy.
// Undecodable events are logged and dropped.
func (s *Session) HandleChatEvent(raw json.RawMessage) {
	s.handleEvent(0, raw)
}

// handleEvent applies raw on behalf of stream id. Events from a stream that
// has since been aborted or replaced are dropped; id 0 is always applied.
func (s *Session) handleEvent(id uint64, raw json.RawMessage) {
	if s.strategy == nil {
		return
	}
	n, err := s.strategy.HandleChatEvent(raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping undecodable handoff event")
		return
	}

	s.mu.Lock()
	if id != 0 && id != s.streamID {
		s.mu.Unlock()
		s.log.Debug().Msg("dropping event from a stale stream")
		return
	}
	if n.Event != nil {
		s.state.Events = append(s.state.Events, *n.Event)
	}
	if n.AgentName != "" {
		s.state.AgentName = n.AgentName
	}
	if !n.ShouldEnd || s.state.Status == domain.StatusNotInitialized {
		st := s.snapshot()
		s.mu.Unlock()
		if n.Event != nil || n.AgentName != "" {
			s.changed(st)
		}
		return
	}

	// End under the same lock so nothing from this stream lands in between.
	tok := s.endLocked()
	s.notifyLocked(tok)
	st := s.snapshot()
	s.mu.Unlock()
	s.changed(st)
}

// End tears the handoff down: the stream is aborted, ChatEnded is appended,
// the status returns to NOT_INITIALIZED and the server is told to release
// the vendor session without waiting for the answer. Ending an idle session
// does nothing.
func (s *Session) End() {
	s.mu.Lock()
	if s.state.Status == domain.StatusNotInitialized {
		s.mu.Unlock()
		return
	}
	tok := s.endLocked()
	s.notifyLocked(tok)
	st := s.snapshot()
	s.mu.Unlock()
	s.changed(st)
}

// fail ends a handoff that could not be established.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Status == domain.StatusNotInitialized {
		s.mu.Unlock()
		return
	}
	tok := s.endLocked()
	s.state.Error = err.Error()
	s.notifyLocked(tok)
	st := s.snapshot()
	s.mu.Unlock()
	s.changed(st)
}

// endLocked resets the state and returns the token that was active.
func (s *Session) endLocked() string {
	s.abortStreamLocked()
	tok := s.state.AuthToken
	s.state.Events = append(s.state.Events, domain.NewEvent(domain.EventChatEnded, s.cfg.Handoff.EndedMessage, s.now()))
	s.state.Status = domain.StatusNotInitialized
	s.state.AgentName = ""
	s.state.AuthToken = ""
	s.state.IsConnected = false
	return tok
}

// notifyLocked releases the vendor session in the background.
func (s *Session) notifyLocked(tok string) {
	if tok == "" || s.closed {
		return
	}
	body := map[string]any{"signedUserData": s.signed, "unsignedUserData": s.unsigned}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), passControlTimeout)
		defer cancel()
		resp, err := s.post(ctx, handoff.PassControlEndpoint(s.strategy.Type()), tok, body)
		if err != nil {
			s.log.Debug().Err(err).Msg("pass control notification failed")
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			s.log.Debug().Int("status", resp.StatusCode).Msg("pass control notification rejected")
		}
	}()
}

// Ask sends a user message. The message is shown at once; when the send
// fails it stays in the log marked Failed and the error is returned.
func (s *Session) Ask(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.state.Status != domain.StatusInitialized || s.strategy == nil {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	idx := len(s.state.Events)
	s.state.Events = append(s.state.Events, domain.NewEvent(domain.EventUserMessage, text, s.now()))
	tok := s.state.AuthToken
	body := map[string]any{"message": text, "signedUserData": s.signed, "unsignedUserData": s.unsigned}
	st := s.snapshot()
	s.mu.Unlock()
	s.changed(st)

	err := s.send(ctx, tok, body)
	if err != nil {
		s.mu.Lock()
		s.state.Events[idx].Failed = true
		st = s.snapshot()
		s.mu.Unlock()
		s.changed(st)
	}
	return err
}

func (s *Session) send(ctx context.Context, tok string, body any) error {
	resp, err := s.post(ctx, s.strategy.MessagesEndpoint(), tok, body)
	if err != nil {
		return fmt.Errorf("widget: send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("send message", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close aborts the stream, cancels a pending reconnect and waits for
// background work. The session cannot be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.abortStreamLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) post(ctx context.Context, path, tok string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	s.setHeaders(req, tok)
	return s.client.Do(req)
}

func (s *Session) setHeaders(req *http.Request, tok string) {
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(handoff.HeaderAgentID, s.cfg.AgentID)
	if s.cfg.OrganizationID != "" {
		req.Header.Set(handoff.HeaderOrganizationID, s.cfg.OrganizationID)
	}
	if tok != "" {
		req.Header.Set(handoff.HeaderAuthToken, tok)
	}
	if key := s.strategy.SubjectHeaderKey(); key != "" && s.cfg.Subject != "" {
		req.Header.Set(key, s.cfg.Subject)
	}
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		msg = envelope.Error
	}
	return &StatusError{Op: op, Status: resp.StatusCode, Body: msg}
}
