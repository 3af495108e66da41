package pubsub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(logging.New(nil, "silent"))
	require.NoError(t, m.Connect(t.Context()))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func receive(t *testing.T, sub Subscription) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "front:org:agent:conv:*", Channel("front", "org", "agent", "conv", "*"))
}

func TestMemoryPatternDelivery(t *testing.T) {
	m := testMemory(t)

	sub, err := m.PSubscribe(t.Context(), "front:org:agent:conv-1:*")
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, m.Publish(ctx, "front:org:agent:conv-2:msg-1", []byte(`"other"`)))
	require.NoError(t, m.Publish(ctx, "front:org:agent:conv-1:msg-2", []byte(`"mine"`)))

	msg := receive(t, sub)
	assert.Equal(t, "front:org:agent:conv-1:msg-2", msg.Channel)
	assert.Equal(t, "front:org:agent:conv-1:*", msg.Pattern)
	assert.Equal(t, `"mine"`, string(msg.Payload))
	assert.Empty(t, sub.Messages())
}

func TestMemoryMultipleSubscribers(t *testing.T) {
	m := testMemory(t)
	a, err := m.PSubscribe(t.Context(), "zendesk:*")
	require.NoError(t, err)
	b, err := m.PSubscribe(t.Context(), "zendesk:o:a:c:*")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Subscribers())

	require.NoError(t, m.Publish(t.Context(), "zendesk:o:a:c:m1", []byte("x")))
	assert.Equal(t, "x", string(receive(t, a).Payload))
	assert.Equal(t, "x", string(receive(t, b).Payload))
}

func TestMemoryPayloadCopied(t *testing.T) {
	m := testMemory(t)
	sub, err := m.PSubscribe(t.Context(), "c:*")
	require.NoError(t, err)

	payload := []byte("abc")
	require.NoError(t, m.Publish(t.Context(), "c:1", payload))
	payload[0] = 'z'
	assert.Equal(t, "abc", string(receive(t, sub).Payload))
}

func TestMemoryUnsubscribeOnContextCancel(t *testing.T) {
	m := testMemory(t)
	ctx, cancel := context.WithCancel(t.Context())
	sub, err := m.PSubscribe(ctx, "c:*")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return m.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	_, ok := <-sub.Messages()
	assert.False(t, ok)
}

func TestMemoryCloseIdempotent(t *testing.T) {
	m := testMemory(t)
	sub, err := m.PSubscribe(t.Context(), "c:*")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, m.Subscribers())
}

func TestMemoryFullBacklogDrops(t *testing.T) {
	m := testMemory(t)
	sub, err := m.PSubscribe(t.Context(), "c:*")
	require.NoError(t, err)

	for i := 0; i < subscriptionBuffer+5; i++ {
		require.NoError(t, m.Publish(t.Context(), "c:1", []byte("x")))
	}
	assert.Len(t, sub.Messages(), subscriptionBuffer)
}

func TestMemoryClosedBroker(t *testing.T) {
	m := NewMemory(nil)
	sub, err := m.PSubscribe(t.Context(), "c:*")
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, ok := <-sub.Messages()
	assert.False(t, ok)
	assert.ErrorIs(t, m.Publish(t.Context(), "c:1", nil), ErrClosed)
	_, err = m.PSubscribe(t.Context(), "c:*")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Connect(t.Context()), ErrClosed)
}

func TestMemoryBadPattern(t *testing.T) {
	m := testMemory(t)
	_, err := m.PSubscribe(t.Context(), "c:[")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	b, err := New(config.PubSubConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = New(config.PubSubConfig{Driver: "redis", URL: "redis://localhost:6379/0"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, b)
	require.NoError(t, b.Close())

	_, err = New(config.PubSubConfig{Driver: "redis", URL: "http://nope"}, nil)
	assert.Error(t, err)

	_, err = New(config.PubSubConfig{Driver: "kafka"}, nil)
	assert.Error(t, err)
}

// TestRedisRoundTrip runs against a live server when HANDOFF_TEST_REDIS_URL
// is set.
func TestRedisRoundTrip(t *testing.T) {
	url := os.Getenv("HANDOFF_TEST_REDIS_URL")
	if url == "" {
		t.Skip("HANDOFF_TEST_REDIS_URL not set")
	}
	r, err := NewRedis(url, nil)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Connect(t.Context()))

	sub, err := r.PSubscribe(t.Context(), "handoff-test:*")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, r.Publish(t.Context(), "handoff-test:1", []byte(`{"ok":true}`)))
	msg := receive(t, sub)
	assert.Equal(t, "handoff-test:1", msg.Channel)
	assert.Equal(t, `{"ok":true}`, string(msg.Payload))
}
