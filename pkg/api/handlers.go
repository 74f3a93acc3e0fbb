package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shipgate/shipgate/pkg/rollout"
	"github.com/shipgate/shipgate/pkg/storage"
	"github.com/shipgate/shipgate/pkg/types"
)

const maxPayloadBytes = 64 * 1024

// handleHealthz is a liveness check for the orchestrator itself
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateRollout accepts a RolloutRequest and runs it. By default the
// call is synchronous and the terminal record is returned; with
// ?wait=false the rollout runs in the background and 202 is returned with
// the pending record's ID omitted (callers poll by host).
func (s *Server) handleCreateRollout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	var req types.RolloutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}
	if err := req.Validate(); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if r.URL.Query().Get("wait") == "false" {
		go func() {
			// Detached from the request context: the rollout must not
			// die with the HTTP connection
			_, err := s.controller.Run(context.Background(), req)
			if err != nil && !errors.Is(err, rollout.ErrConflict) {
				s.logger.Error().Err(err).Str("host", req.Host).Msg("Background rollout rejected")
			}
		}()
		s.respondJSON(w, http.StatusAccepted, map[string]string{
			"message": "rollout accepted",
			"host":    req.Host,
		})
		return
	}

	record, err := s.controller.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, rollout.ErrConflict) {
			s.respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if record.State == types.RolloutFailed {
		status = http.StatusBadGateway
	}
	s.respondJSON(w, status, record)
}

// handleGetRollout returns one rollout record by ID
func (s *Server) handleGetRollout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "rolloutID")

	record, err := s.store.GetRollout(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown rollout"})
			return
		}
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

// handleListRollouts returns recent rollout records, optionally filtered
// by host
func (s *Server) handleListRollouts(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")

	var (
		records []*types.Rollout
		err     error
	)
	if host != "" {
		records, err = s.store.ListRolloutsByHost(host)
	} else {
		records, err = s.store.ListRollouts()
	}
	if err != nil {
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []*types.Rollout{}
	}
	s.respondJSON(w, http.StatusOK, records)
}

// handleEvents streams rollout state transitions as server-sent events
// until the client disconnects
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if s.broker == nil || !ok {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream unavailable"})
		return
	}

	sub := s.broker.Subscribe()
	defer s.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
