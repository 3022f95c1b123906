package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jonwraymond/agentguard/agent"
	"github.com/jonwraymond/agentguard/agenterr"
	"github.com/jonwraymond/agentguard/auth"
	"github.com/jonwraymond/agentguard/loop"
	"github.com/jonwraymond/agentguard/observe"
	"github.com/jonwraymond/agentguard/recovery"
	"github.com/jonwraymond/agentguard/resilience"
)

// MaxRequestBytes bounds a run request body.
const MaxRequestBytes = 1 << 20

type runRequest struct {
	RunID    string         `json:"runId,omitempty"`
	Messages []loop.Message `json:"messages"`
}

func (req runRequest) validate() error {
	if len(req.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case loop.RoleUser, loop.RoleAssistant:
		default:
			return fmt.Errorf("messages[%d]: role %q is not allowed", i, m.Role)
		}
		if m.Role == loop.RoleUser && m.Content == "" {
			return fmt.Errorf("messages[%d]: content is required", i)
		}
	}
	if last := req.Messages[len(req.Messages)-1]; last.Role != loop.RoleUser {
		return errors.New("the last message must come from the user")
	}
	return nil
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func authMessage(err error) string {
	if errors.Is(err, auth.ErrTokenExpired) {
		return "Your session has expired. Please sign in again."
	}
	return recovery.Message(agenterr.KindUnauthorized)
}

func (s *Server) handleKinds(w http.ResponseWriter, _ *http.Request) {
	kinds := s.cfg.Runner.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]string{"kinds": out})
}

// handleRun validates the request, takes a bulkhead slot and streams the
// run. Everything rejected before the stream opens gets a JSON error.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := agent.Kind(chi.URLParam(r, "kind"))
	if !s.cfg.Runner.Has(kind) {
		writeError(w, http.StatusNotFound, "unknown_kind", fmt.Sprintf("Agent %q does not exist.", kind))
		return
	}

	id := auth.IdentityFromContext(ctx)
	if err := s.cfg.Authorizer.Authorize(ctx, id, string(kind), auth.ActionRun); err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			writeError(w, http.StatusForbidden, "forbidden", "You are not allowed to use this agent.")
			return
		}
		s.cfg.Logger.Error(ctx, "authorization failed", observe.F("error", err))
		writeError(w, http.StatusInternalServerError, "internal", recovery.Message(agenterr.KindUnknown))
		return
	}

	var req runRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "The request body is not valid JSON.")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.RunID == "" {
		req.RunID = r.Header.Get(HeaderRunID)
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	if err := s.bulkhead.Acquire(ctx); err != nil {
		if errors.Is(err, resilience.ErrBulkheadFull) {
			s.cfg.Logger.Warn(ctx, "run rejected, server at capacity", observe.F("agent.kind", string(kind)))
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "busy", recovery.Message(agenterr.KindRateLimitExceeded))
		}
		return
	}
	defer s.bulkhead.Release()

	sink, err := newSSESink(w, req.RunID, s.cfg.Mapper)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", recovery.Message(agenterr.KindUnknown))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	sink.open()
	res, err := s.cfg.Runner.Run(ctx, agent.Request{
		Kind:     kind,
		RunID:    req.RunID,
		Messages: req.Messages,
	}, sink)
	if err != nil {
		s.cfg.Logger.Warn(ctx, "run ended with error",
			observe.F("agent.run_id", req.RunID),
			observe.F("kind", s.cfg.Mapper.Classify(err).String()),
		)
	}
	if err := sink.Err(); err != nil {
		s.cfg.Logger.Debug(ctx, "event stream interrupted",
			observe.F("agent.run_id", req.RunID),
			observe.F("loop.steps", res.Steps),
			observe.F("error", err),
		)
	}
}
