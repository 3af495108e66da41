package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/platform/messaging"
	"github.com/soyeahso/handoff/internal/platform/salesforce"
	"github.com/soyeahso/handoff/internal/pubsub"
	"github.com/soyeahso/handoff/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(t *testing.T, body string) []string {
	t.Helper()
	r := sse.NewReader(strings.NewReader(body))
	var out []string
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev.Data)
	}
}

// --- Salesforce poll relay ---

type pollStep struct {
	resp *salesforce.MessagesResponse
	err  error
}

type fakeSalesforce struct {
	mu    sync.Mutex
	steps []pollStep
	acks  []int64
	sent  []string
}

func (f *fakeSalesforce) Messages(ctx context.Context, _ salesforce.Auth, ack int64) (*salesforce.MessagesResponse, error) {
	f.mu.Lock()
	f.acks = append(f.acks, ack)
	if len(f.steps) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	f.mu.Unlock()
	return step.resp, step.err
}

func (f *fakeSalesforce) SendMessage(_ context.Context, _ salesforce.Auth, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

type fakeAcks struct {
	mu     sync.Mutex
	stored int64
	calls  []int64
}

func (f *fakeAcks) AdvanceAck(_ context.Context, _ string, seq int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, seq)
	if seq > f.stored {
		f.stored = seq
	}
	return f.stored, nil
}

func sfMessage(typ, body string) salesforce.Message {
	return salesforce.Message{Type: typ, Message: json.RawMessage(body)}
}

func batch(seq int64, msgs ...salesforce.Message) pollStep {
	if msgs == nil {
		msgs = []salesforce.Message{}
	}
	return pollStep{resp: &salesforce.MessagesResponse{Messages: msgs, Sequence: seq}}
}

func TestSalesforcePollRelaysAndAdvancesAck(t *testing.T) {
	client := &fakeSalesforce{steps: []pollStep{
		batch(1, sfMessage("ChatRequestSuccess", `{}`)),
		batch(1),
		batch(3,
			sfMessage("ChasitorSessionData", `{}`),
			sfMessage("ChatMessage", `{"text":"Please tell us the SUBJECT of your request","name":"Bot"}`),
			sfMessage("ChatMessage", `{"text":"Hi, I'm Ana","name":"Ana"}`),
		),
		batch(2),
		batch(5, sfMessage("ChatEnded", `{"reason":"agent"}`)),
		batch(6, sfMessage("ChatMessage", `{"text":"never relayed"}`)),
	}}
	acks := &fakeAcks{}
	rec := httptest.NewRecorder()

	p := &SalesforcePoll{
		Client:        client,
		Acks:          acks,
		SessionID:     "sess-1",
		SubjectPrompt: "subject of your request",
		Subject:       "My order is late",
		Log:           logging.New(nil, "silent"),
	}
	require.NoError(t, p.Run(t.Context(), sse.NewWriter(rec)))

	assert.Equal(t, []int64{0, 1, 1, 3, 3}, client.acks)
	assert.Equal(t, []int64{1, 1, 3, 3, 5}, acks.calls)
	assert.Equal(t, []string{"My order is late"}, client.sent)

	got := frames(t, rec.Body.String())
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"type":"ChatRequestSuccess","message":{}}`, got[0])
	assert.JSONEq(t, `{"type":"ChatMessage","message":{"text":"Hi, I'm Ana","name":"Ana"}}`, got[1])
	assert.JSONEq(t, `{"type":"ChatEnded","message":{"reason":"agent"}}`, got[2])
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestSalesforcePollResumesFromStoredAck(t *testing.T) {
	client := &fakeSalesforce{steps: []pollStep{
		batch(2),
		batch(9, sfMessage("ChatEnded", `{}`)),
	}}
	acks := &fakeAcks{stored: 7}

	p := &SalesforcePoll{Client: client, Acks: acks, SessionID: "s", Ack: 4}
	require.NoError(t, p.Run(t.Context(), sse.NewWriter(httptest.NewRecorder())))
	assert.Equal(t, []int64{4, 7}, client.acks)
}

func TestSalesforcePollSubjectPromptWithoutSubjectIsRelayed(t *testing.T) {
	client := &fakeSalesforce{steps: []pollStep{
		batch(1, sfMessage("ChatMessage", `{"text":"What is the subject of your request?"}`)),
		batch(2, sfMessage("ChatEnded", `{}`)),
	}}
	rec := httptest.NewRecorder()
	p := &SalesforcePoll{Client: client, SubjectPrompt: "subject of your request"}
	require.NoError(t, p.Run(t.Context(), sse.NewWriter(rec)))

	assert.Empty(t, client.sent)
	assert.Len(t, frames(t, rec.Body.String()), 2)
}

func TestSalesforcePollVendorErrorClosesStream(t *testing.T) {
	client := &fakeSalesforce{steps: []pollStep{
		batch(1, sfMessage("AgentTyping", `{}`)),
		{err: &salesforce.ChatMessagesError{Status: http.StatusForbidden}},
	}}
	rec := httptest.NewRecorder()
	p := &SalesforcePoll{Client: client}
	err := p.Run(t.Context(), sse.NewWriter(rec))

	var statusErr *salesforce.ChatMessagesError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Status)
	assert.Len(t, frames(t, rec.Body.String()), 1)
}

func TestSalesforcePollStopsOnCancel(t *testing.T) {
	client := &fakeSalesforce{}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- (&SalesforcePoll{Client: client}).Run(ctx, sse.NewWriter(httptest.NewRecorder()))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}

// --- Pub/sub relay ---

func serveRelay(t *testing.T, r Relay) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sw := sse.NewWriter(w)
		if err := r.Run(req.Context(), sw); err != nil && !sw.Opened() {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openStream(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return resp
}

func TestPubSubRelayForwardsAndSkipsMalformed(t *testing.T) {
	broker := pubsub.NewMemory(nil)
	t.Cleanup(func() { broker.Close() })

	srv := serveRelay(t, &PubSub{Broker: broker, Pattern: "front:org:agent:conv-1:*", Vendor: "front", KeepAlive: time.Hour})
	resp := openStream(t, srv.URL)
	assert.Equal(t, 1, broker.Subscribers(), "subscription is in place once the stream is open")

	ctx := t.Context()
	require.NoError(t, broker.Publish(ctx, "front:org:agent:conv-1:m1", []byte(`{not json`)))
	require.NoError(t, broker.Publish(ctx, "front:org:agent:conv-2:m2", []byte(`{"type":"message","id":"other"}`)))
	require.NoError(t, broker.Publish(ctx, "front:org:agent:conv-1:m3", []byte(`{"type":"message","id":"m3"}`)))

	ev, err := sse.NewReader(resp.Body).Next()
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &frame))
	assert.Equal(t, "front:org:agent:conv-1:m3", frame.Channel)
	assert.JSONEq(t, `{"type":"message","id":"m3"}`, string(frame.Message))
}

func TestPubSubRelayKeepAlive(t *testing.T) {
	broker := pubsub.NewMemory(nil)
	t.Cleanup(func() { broker.Close() })

	srv := serveRelay(t, &PubSub{Broker: broker, Pattern: "zendesk:*", Vendor: "zendesk", KeepAlive: 20 * time.Millisecond})
	resp := openStream(t, srv.URL)

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": keep-alive\n", line)
}

func TestPubSubRelayUnsubscribesOnDisconnect(t *testing.T) {
	broker := pubsub.NewMemory(nil)
	t.Cleanup(func() { broker.Close() })

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		r := &PubSub{Broker: broker, Pattern: "front:*", Vendor: "front"}
		done <- r.Run(ctx, sse.NewWriter(httptest.NewRecorder()))
	}()
	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	assert.Equal(t, 0, broker.Subscribers())
}

type failingSubscriber struct{}

func (failingSubscriber) PSubscribe(context.Context, string) (pubsub.Subscription, error) {
	return nil, errors.New("redis down")
}

func TestPubSubRelaySubscribeError(t *testing.T) {
	r := &PubSub{Broker: failingSubscriber{}, Pattern: "front:*", Vendor: "front"}
	w := sse.NewWriter(httptest.NewRecorder())
	assert.Error(t, r.Run(t.Context(), w))
	assert.False(t, w.Opened(), "a failed subscribe leaves the response uncommitted")

	srv := serveRelay(t, r)
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

// lateWriter records writes that arrive after the handler has returned.
type lateWriter struct {
	mu       sync.Mutex
	header   http.Header
	returned bool
	late     int
}

func (l *lateWriter) Header() http.Header { return l.header }

func (l *lateWriter) WriteHeader(int) {}

func (l *lateWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.returned {
		l.late++
	}
	return len(p), nil
}

func (l *lateWriter) Flush() {}

func (l *lateWriter) finish() {
	l.mu.Lock()
	l.returned = true
	l.mu.Unlock()
}

func (l *lateWriter) lateWrites() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.late
}

// Run with -race: the heartbeat shares the ResponseWriter and must be gone
// before Run hands it back to net/http.
func TestRelaysStopHeartbeatBeforeReturning(t *testing.T) {
	broker := pubsub.NewMemory(nil)
	t.Cleanup(func() { broker.Close() })

	relays := map[string]func() Relay{
		"pubsub": func() Relay {
			return &PubSub{Broker: broker, Pattern: "front:*", Vendor: "front", KeepAlive: time.Millisecond}
		},
		"messaging": func() Relay {
			return &MessagingPassthrough{
				KeepAlive: time.Millisecond,
				Open: func(ctx context.Context, _ string) (EventStream, error) {
					return &blockingStream{ctx: ctx}, nil
				},
			}
		},
	}
	for name, build := range relays {
		t.Run(name, func(t *testing.T) {
			for range 20 {
				w := &lateWriter{header: http.Header{}}
				ctx, cancel := context.WithCancel(t.Context())
				done := make(chan error, 1)
				go func() { done <- build().Run(ctx, sse.NewWriter(w)) }()
				time.Sleep(3 * time.Millisecond)
				cancel()
				select {
				case <-done:
				case <-time.After(time.Second):
					t.Fatal("relay did not stop")
				}
				w.finish()
				time.Sleep(3 * time.Millisecond)
				require.Zero(t, w.lateWrites(), "write after Run returned")
			}
		})
	}
}

// --- Messaging passthrough ---

type fakeStream struct {
	events []sse.Event
	err    error
	closed atomic.Bool
}

func (f *fakeStream) Next() (sse.Event, error) {
	if len(f.events) == 0 {
		if f.err != nil {
			return sse.Event{}, f.err
		}
		return sse.Event{}, io.EOF
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, nil
}

func (f *fakeStream) Close() error {
	f.closed.Store(true)
	return nil
}

// blockingStream yields nothing until its context ends.
type blockingStream struct{ ctx context.Context }

func (b *blockingStream) Next() (sse.Event, error) {
	<-b.ctx.Done()
	return sse.Event{}, io.EOF
}

func (b *blockingStream) Close() error { return nil }

func TestMessagingPassthroughReframes(t *testing.T) {
	stream := &fakeStream{events: []sse.Event{
		{Name: "CONVERSATION_MESSAGE", ID: "1", Data: `{"conversationId":"c-1"}`},
		{Name: "ping"},
		{Name: "CONVERSATION_CLOSE_CONVERSATION", Data: "closed"},
		{Data: `{"x":1}`},
	}}
	var gotLastEventID string
	r := &MessagingPassthrough{
		LastEventID: "0",
		KeepAlive:   time.Hour,
		Open: func(_ context.Context, lastEventID string) (EventStream, error) {
			gotLastEventID = lastEventID
			return stream, nil
		},
	}
	rec := httptest.NewRecorder()
	require.NoError(t, r.Run(t.Context(), sse.NewWriter(rec)))
	assert.Equal(t, "0", gotLastEventID)

	got := frames(t, rec.Body.String())
	require.Len(t, got, 3)

	var env messaging.Envelope
	require.NoError(t, json.Unmarshal([]byte(got[0]), &env))
	assert.Equal(t, "CONVERSATION_MESSAGE", env.Event)
	assert.JSONEq(t, `{"conversationId":"c-1"}`, string(env.Data))

	assert.JSONEq(t, `{"event":"CONVERSATION_CLOSE_CONVERSATION","data":"closed"}`, got[1])
	assert.JSONEq(t, `{"event":"message","data":{"x":1}}`, got[2])
	assert.Eventually(t, func() bool { return stream.closed.Load() }, time.Second, 5*time.Millisecond)
}

func TestMessagingPassthroughErrors(t *testing.T) {
	r := &MessagingPassthrough{Open: func(context.Context, string) (EventStream, error) {
		return nil, errors.New("401")
	}}
	assert.Error(t, r.Run(t.Context(), sse.NewWriter(httptest.NewRecorder())))

	r = &MessagingPassthrough{Open: func(context.Context, string) (EventStream, error) {
		return &fakeStream{err: errors.New("connection reset")}, nil
	}}
	assert.Error(t, r.Run(t.Context(), sse.NewWriter(httptest.NewRecorder())))
}
