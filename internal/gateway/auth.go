package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/handoff"
	"github.com/soyeahso/handoff/internal/store"
	"github.com/soyeahso/handoff/internal/token"
	"golang.org/x/time/rate"
)

// maxTrackedIPs caps limiter state to prevent memory exhaustion.
const maxTrackedIPs = 10000

// ipLimiter is a token bucket per client IP.
type ipLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:    limit,
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](maxTrackedIPs, nil, 10*time.Minute),
	}
}

func (l *ipLimiter) allow(host string) bool {
	l.mu.Lock()
	lim, ok := l.limiters.Get(host)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(host, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// authRateLimiter tracks failed token and webhook-secret attempts per IP to
// prevent brute-force attacks.
type authRateLimiter struct {
	maxFails int
	window   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	failures *expirable.LRU[string, []time.Time]
}

func newAuthRateLimiter(maxFails int, window time.Duration) *authRateLimiter {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &authRateLimiter{
		maxFails: maxFails,
		window:   window,
		now:      time.Now,
		failures: expirable.NewLRU[string, []time.Time](maxTrackedIPs, nil, window),
	}
}

func (l *authRateLimiter) allow(host string) bool {
	if l.maxFails <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.recent(host)
	if len(recent) == 0 {
		l.failures.Remove(host)
		return true
	}
	l.failures.Add(host, recent)
	return len(recent) < l.maxFails
}

func (l *authRateLimiter) recordFailure(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures.Add(host, append(l.recent(host), l.now()))
}

// recent returns the failures inside the window. Callers hold mu.
func (l *authRateLimiter) recent(host string) []time.Time {
	times, _ := l.failures.Get(host)
	cutoff := l.now().Add(-l.window)
	filtered := make([]time.Time, 0, len(times)+1)
	for _, t := range times {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// authorized is a request whose handoff token checked out against the
// session registry.
type authorized struct {
	claims  *token.Claims
	session *domain.HandoffSession
	agent   *config.AgentConfig
}

// authenticate revalidates the bearer token on every request. It writes the
// error response itself and reports false when the request must stop.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, vendor domain.HandoffType) (*authorized, bool) {
	host := clientHost(r)
	if !s.authLimiter.allow(host) {
		s.log.Warn().Str("remote", host).Msg("rate limited, too many failed token attempts")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return nil, false
	}

	fail := func(status int, msg string) (*authorized, bool) {
		s.authLimiter.recordFailure(host)
		writeError(w, status, msg)
		return nil, false
	}

	claims, err := s.issuer.Validate(r.Header.Get(handoff.HeaderAuthToken))
	if err != nil {
		s.log.Debug().Err(err).Str("remote", host).Msg("rejected handoff token")
		return fail(http.StatusUnauthorized, token.ErrInvalidToken.Error())
	}
	if claims.Vendor != vendor {
		return fail(http.StatusUnauthorized, "token was issued for another handoff type")
	}
	if agentID := r.Header.Get(handoff.HeaderAgentID); agentID != "" && agentID != claims.AgentID {
		return fail(http.StatusUnauthorized, "token was issued for another agent")
	}
	if orgID := r.Header.Get(handoff.HeaderOrganizationID); orgID != "" && orgID != claims.OrganizationID {
		return fail(http.StatusUnauthorized, "token was issued for another organization")
	}

	sess, err := s.sessions.Get(r.Context(), claims.SessionID())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fail(http.StatusUnauthorized, token.ErrInvalidToken.Error())
	case err != nil:
		s.log.Error().Err(err).Str("session", claims.SessionID()).Msg("loading handoff session failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	case sess.Status == domain.SessionEnded:
		writeError(w, http.StatusUnauthorized, token.ErrSessionEnded.Error())
		return nil, false
	}

	agent, ok := s.agent(claims.AgentID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return nil, false
	}
	return &authorized{claims: claims, session: sess, agent: agent}, true
}

// verifyUserData checks signed user data against the agent's identity
// secret and merges in unsigned fields.
func verifyUserData(agent *config.AgentConfig, signed string, unsigned map[string]string) (token.UserData, error) {
	verified, err := token.VerifyUserData(agent.IdentitySecret, signed)
	if err != nil {
		return token.UserData{}, err
	}
	return token.Merge(verified, unsigned), nil
}

// detached keeps request values but outlives the request, for teardown
// calls that must finish after the client hangs up.
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
