package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/pubsub"
	"github.com/soyeahso/handoff/internal/token"
)

var (
	ErrNoSessions = errors.New("gateway: session store is required")
	ErrNoBroker   = errors.New("gateway: pubsub broker is required")
	ErrNoIssuer   = errors.New("gateway: token issuer is required")
)

const (
	deliveryRetention = 24 * time.Hour
	pruneInterval     = time.Hour
)

// SessionStore is the registry the gateway keeps handoff sessions in.
type SessionStore interface {
	Create(ctx context.Context, sess *domain.HandoffSession) error
	Get(ctx context.Context, id string) (*domain.HandoffSession, error)
	AdvanceAck(ctx context.Context, id string, seq int64) (int64, error)
	MarkEnded(ctx context.Context, id string) error
	MarkDelivered(ctx context.Context, vendor domain.HandoffType, messageID string) (bool, error)
	PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error)
}

// Server is the handoff relay HTTP server.
type Server struct {
	cfg        config.Config
	log        *logging.Logger
	sessions   SessionStore
	broker     pubsub.Broker
	issuer     *token.Issuer
	httpClient *http.Client
	now        func() time.Time

	limiter      *ipLimiter
	authLimiter  *authRateLimiter
	availability *expirable.LRU[string, availabilityResponse]

	mu         sync.Mutex
	addr       string
	startedAt  time.Time
	httpServer *http.Server
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithSessions sets the handoff session registry.
func WithSessions(s SessionStore) ServerOption {
	return func(srv *Server) {
		srv.sessions = s
	}
}

// WithBroker sets the broker webhook events are published on.
func WithBroker(b pubsub.Broker) ServerOption {
	return func(srv *Server) {
		srv.broker = b
	}
}

// WithIssuer sets the handoff token issuer.
func WithIssuer(i *token.Issuer) ServerOption {
	return func(srv *Server) {
		srv.issuer = i
	}
}

// WithHTTPClient sets the client used for vendor calls. Nil keeps each
// vendor client's default.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(srv *Server) {
		srv.httpClient = c
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServerOption {
	return func(srv *Server) {
		srv.now = now
	}
}

// New creates a gateway server.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) (*Server, error) {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{
		cfg: cfg,
		log: log.Sub("gateway"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.sessions == nil:
		return nil, ErrNoSessions
	case s.broker == nil:
		return nil, ErrNoBroker
	case s.issuer == nil:
		return nil, ErrNoIssuer
	}

	s.limiter = newIPLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
	s.authLimiter = newAuthRateLimiter(cfg.RateLimit.MaxAuthFailures, time.Duration(cfg.RateLimit.LockoutSeconds)*time.Second)
	cacheTTL := time.Duration(cfg.Availability.CacheSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = time.Second
	}
	s.availability = expirable.NewLRU[string, availabilityResponse](len(cfg.Agents)+1, nil, cacheTTL)
	return s, nil
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	// WriteTimeout bounds ordinary requests; relay streams push their own
	// deadline out to the configured maximum.
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr().String()
	s.startedAt = s.now()
	s.mu.Unlock()

	if s.cfg.Server.Bind != "loopback" && s.cfg.Server.PublicURL == "" {
		s.log.Warn().Msg("listening beyond loopback without server.publicUrl; terminate TLS in front of the relay")
	}
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Server.Bind).
		Int("agents", len(s.cfg.Agents)).
		Msg("handoff relay ready")

	go s.pruneDeliveries(ctx)

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down handoff relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("shutdown did not complete cleanly")
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// pruneDeliveries drops webhook dedupe records past retention.
func (s *Server) pruneDeliveries(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessions.PruneDeliveries(ctx, s.now().Add(-deliveryRetention))
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn().Err(err).Msg("pruning webhook deliveries failed")
				}
				continue
			}
			if n > 0 {
				s.log.Debug().Int64("removed", n).Msg("pruned webhook deliveries")
			}
		}
	}
}

// agent resolves the agent a request is addressed to.
func (s *Server) agent(id string) (*config.AgentConfig, bool) {
	if id == "" {
		return nil, false
	}
	return s.cfg.Agent(id)
}
