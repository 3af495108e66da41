package handoff

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/logging"
	"github.com/soyeahso/handoff/internal/metrics"
	"github.com/soyeahso/handoff/internal/platform/front"
	"github.com/soyeahso/handoff/internal/platform/salesforce"
	"github.com/soyeahso/handoff/internal/platform/zendesk"
)

// ServerStrategy is the server-only half of a platform. It may hold
// credentials and must never be serialized to clients.
type ServerStrategy interface {
	Type() domain.HandoffType
	// FetchHandoffAvailability reports whether agents can take a handoff.
	// It fails open: any error reports available.
	FetchHandoffAvailability(ctx context.Context) bool
}

type serverOptions struct {
	httpClient *http.Client
	log        *logging.Logger
	now        func() time.Time
}

// ServerOption customizes server strategy construction.
type ServerOption func(*serverOptions)

// WithHTTPClient sets the client used for vendor availability calls.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(o *serverOptions) { o.httpClient = c }
}

// WithLogger sets the logger failures are reported to.
func WithLogger(l *logging.Logger) ServerOption {
	return func(o *serverOptions) { o.log = l }
}

// WithServerClock replaces time.Now for shift evaluation.
func WithServerClock(now func() time.Time) ServerOption {
	return func(o *serverOptions) { o.now = now }
}

// NewServerStrategy returns the server strategy for cfg.Type, or nil for an
// unknown type.
func NewServerStrategy(cfg config.HandoffConfig, opts ...ServerOption) ServerStrategy {
	o := serverOptions{log: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.Sub("availability").With("vendor", string(cfg.Type))
	base := serverBase{typ: cfg.Type, enabled: cfg.AvailabilityCheck, log: log}

	switch cfg.Type {
	case domain.HandoffSalesforce:
		if cfg.Salesforce == nil {
			return &base
		}
		return &salesforceServer{serverBase: base, client: salesforce.NewClient(*cfg.Salesforce, o.httpClient, log)}
	case domain.HandoffZendesk:
		if cfg.Zendesk == nil {
			return &base
		}
		return &zendeskServer{serverBase: base, client: zendesk.NewClient(*cfg.Zendesk, o.httpClient, log)}
	case domain.HandoffFront:
		if cfg.Front == nil {
			return &base
		}
		return &frontServer{serverBase: base, client: front.NewClient(*cfg.Front, o.httpClient, log), now: o.now}
	case domain.HandoffSalesforceMessaging:
		return &base
	default:
		return nil
	}
}

// serverBase always reports available. It serves platforms without an
// availability API and configurations with the check turned off.
type serverBase struct {
	typ     domain.HandoffType
	enabled bool
	log     *logging.Logger
}

func (s *serverBase) Type() domain.HandoffType { return s.typ }

func (s *serverBase) FetchHandoffAvailability(context.Context) bool { return true }

func (s *serverBase) record(available bool) bool {
	result := "unavailable"
	if available {
		result = "available"
	}
	metrics.AvailabilityChecksTotal.WithLabelValues(string(s.typ), result).Inc()
	return available
}

func (s *serverBase) failOpen(err error) bool {
	s.log.Warn().Err(err).Msg("availability check failed, reporting available")
	metrics.AvailabilityChecksTotal.WithLabelValues(string(s.typ), "failopen").Inc()
	return true
}

type salesforceServer struct {
	serverBase
	client *salesforce.Client
}

func (s *salesforceServer) FetchHandoffAvailability(ctx context.Context) bool {
	if !s.enabled {
		return true
	}
	available, found, err := s.client.Availability(ctx)
	if err != nil {
		return s.failOpen(err)
	}
	if !found {
		return s.failOpen(errors.New("chat button missing from availability response"))
	}
	return s.record(available)
}

type zendeskServer struct {
	serverBase
	client *zendesk.Client
}

func (s *zendeskServer) FetchHandoffAvailability(ctx context.Context) bool {
	if !s.enabled {
		return true
	}
	online, err := s.client.OnlineAgents(ctx)
	if err != nil {
		return s.failOpen(err)
	}
	return s.record(online > 0)
}

type frontServer struct {
	serverBase
	client *front.Client
	now    func() time.Time
}

// FetchHandoffAvailability reports available when any configured shift is
// active now.
func (s *frontServer) FetchHandoffAvailability(ctx context.Context) bool {
	if !s.enabled {
		return true
	}
	shifts, err := s.client.Shifts(ctx)
	if err != nil {
		return s.failOpen(err)
	}
	if len(shifts) == 0 {
		return s.failOpen(errors.New("no configured shift found"))
	}
	active, err := front.AnyActive(shifts, s.now())
	if active {
		return s.record(true)
	}
	if err != nil {
		return s.failOpen(err)
	}
	return s.record(false)
}
