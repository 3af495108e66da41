package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/soyeahso/handoff/internal/logging"
)

// Redis is a broker over Redis PUBLISH/PSUBSCRIBE, shared by every instance
// of the server.
type Redis struct {
	client *redis.Client
	log    *logging.Logger
}

// NewRedis creates a broker for a redis:// or rediss:// URL.
func NewRedis(rawURL string, log *logging.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("pubsub: parse redis url: %w", err)
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Redis{client: redis.NewClient(opts), log: log.Sub("pubsub")}, nil
}

// Connect verifies the server is reachable.
func (r *Redis) Connect(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pubsub: redis ping: %w", err)
	}
	r.log.Info().Str("addr", r.client.Options().Addr).Msg("connected to redis")
	return nil
}

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", channel, err)
	}
	return nil
}

// PSubscribe subscribes to pattern and waits for the server to confirm.
func (r *Redis) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	ps := r.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("pubsub: psubscribe %s: %w", pattern, err)
	}

	sub := &redisSub{ps: ps, ch: make(chan Message, subscriptionBuffer), done: make(chan struct{})}
	go sub.pump(ctx)
	return sub, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump(ctx context.Context) {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg := Message{Channel: m.Channel, Pattern: m.Pattern, Payload: []byte(m.Payload)}
			select {
			case s.ch <- msg:
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}

func (s *redisSub) Messages() <-chan Message { return s.ch }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
