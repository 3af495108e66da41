package pubsub

import (
	"context"
	"path"
	"sync"

	"github.com/soyeahso/handoff/internal/logging"
)

// subscriptionBuffer bounds each subscriber's backlog. A subscriber that
// falls further behind loses messages rather than stalling publishers.
const subscriptionBuffer = 64

// Memory is an in-process broker. It serves single-instance deployments and
// tests; messages never leave the process.
type Memory struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool
	log    *logging.Logger
}

// NewMemory creates an in-process broker.
func NewMemory(log *logging.Logger) *Memory {
	if log == nil {
		log = logging.Nop()
	}
	return &Memory{
		subs: make(map[*memorySub]struct{}),
		log:  log.Sub("pubsub"),
	}
}

// Connect is a no-op for the in-process broker.
func (m *Memory) Connect(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Publish delivers payload to every subscription whose pattern matches
// channel. Delivery never blocks; full subscribers drop the message.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	for sub := range m.subs {
		if ok, _ := path.Match(sub.pattern, channel); !ok {
			continue
		}
		msg := Message{Channel: channel, Pattern: sub.pattern, Payload: append([]byte(nil), payload...)}
		select {
		case sub.ch <- msg:
		default:
			m.log.Warn().Str("channel", channel).Str("pattern", sub.pattern).Msg("subscriber backlog full, dropping message")
		}
	}
	return nil
}

// PSubscribe registers a glob pattern subscription. It ends when ctx is
// cancelled or Close is called.
func (m *Memory) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{
		broker:  m,
		pattern: pattern,
		ch:      make(chan Message, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	m.subs[sub] = struct{}{}
	m.log.Debug().Str("pattern", pattern).Msg("subscribed")

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Close ends every subscription and rejects further use.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*memorySub, 0, len(m.subs))
	for sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

type memorySub struct {
	broker  *Memory
	pattern string
	ch      chan Message
	done    chan struct{}
	once    sync.Once
}

func (s *memorySub) Messages() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.done)
		close(s.ch)
		s.broker.log.Debug().Str("pattern", s.pattern).Msg("unsubscribed")
	})
	return nil
}
