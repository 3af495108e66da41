package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/soyeahso/handoff/internal/config"
	"github.com/soyeahso/handoff/internal/domain"
	"github.com/soyeahso/handoff/internal/handoff"
)

// maxBodyBytes bounds request bodies, transcripts included.
const maxBodyBytes = 1 << 20

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

type availabilityResponse struct {
	Available bool               `json:"available"`
	Type      domain.HandoffType `json:"type"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// handleClientConfig serves the client-safe projection of an agent's
// handoff configuration.
func (s *Server) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.agent(r.URL.Query().Get("agentId"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	writeJSON(w, http.StatusOK, agent.Handoff.ClientSafe())
}

// handleAvailability reports whether a live agent can take a handoff. The
// check fails open and results are cached briefly per agent.
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	agent, ok := s.agent(r.URL.Query().Get("agentId"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	if cached, ok := s.availability.Get(agent.ID); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	strategy := handoff.NewServerStrategy(agent.Handoff,
		handoff.WithHTTPClient(s.httpClient),
		handoff.WithLogger(s.log),
		handoff.WithServerClock(s.now),
	)
	if strategy == nil {
		writeJSON(w, http.StatusOK, availabilityResponse{Available: false, Type: agent.Handoff.Type})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.availabilityTimeout())
	defer cancel()
	resp := availabilityResponse{
		Available: strategy.FetchHandoffAvailability(ctx),
		Type:      strategy.Type(),
	}
	s.availability.Add(agent.ID, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) availabilityTimeout() time.Duration {
	if s.cfg.Availability.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.cfg.Availability.TimeoutSeconds) * time.Second
}

// routeVendor resolves the {vendor} path segment.
func routeVendor(w http.ResponseWriter, r *http.Request) (domain.HandoffType, bool) {
	vendor := domain.HandoffType(chi.URLParam(r, "vendor"))
	if !vendor.Valid() {
		handleNotFound(w, r)
		return "", false
	}
	return vendor, true
}

// routeAgent resolves the agent named by the X-Agent-Id header and checks it
// escalates to vendor.
func (s *Server) routeAgent(w http.ResponseWriter, r *http.Request, vendor domain.HandoffType) (*config.AgentConfig, bool) {
	agent, ok := s.agent(r.Header.Get(handoff.HeaderAgentID))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return nil, false
	}
	if orgID := r.Header.Get(handoff.HeaderOrganizationID); orgID != "" && orgID != agent.OrganizationID {
		writeError(w, http.StatusNotFound, "unknown agent")
		return nil, false
	}
	if agent.Handoff.Type != vendor {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("agent does not hand off to %s", vendor))
		return nil, false
	}
	return agent, true
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
