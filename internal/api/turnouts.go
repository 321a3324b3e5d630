package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/xnet-bridge/internal/turnout"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// turnoutResponse is the JSON view of a turnout.
type turnoutResponse struct {
	Address      int    `json:"address"`
	Name         string `json:"name,omitempty"`
	Commanded    string `json:"commanded_state"`
	Known        string `json:"known_state"`
	Internal     string `json:"internal_state"`
	FeedbackMode string `json:"feedback_mode"`
	Inverted     bool   `json:"inverted"`
	Settled      bool   `json:"settled"`
}

func toTurnoutResponse(st turnout.Status) turnoutResponse {
	return turnoutResponse{
		Address:      st.Address,
		Name:         st.Name,
		Commanded:    st.Commanded.String(),
		Known:        st.Known.String(),
		Internal:     st.Internal.String(),
		FeedbackMode: st.Mode.String(),
		Inverted:     st.Inverted,
		Settled:      st.Settled(),
	}
}

type historyResponse struct {
	ID        int64  `json:"id"`
	Property  string `json:"property"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
	Timestamp string `json:"timestamp"`
}

type setStateRequest struct {
	State string `json:"state"`
}

func (s *Server) handleListTurnouts(w http.ResponseWriter, _ *http.Request) {
	list := s.turnouts.List()
	out := make([]turnoutResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTurnoutResponse(t.Snapshot()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"turnouts": out,
		"count":    len(out),
	})
}

func (s *Server) handleGetTurnout(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTurnout(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTurnoutResponse(t.Snapshot()))
}

// handleSetTurnoutState queues a drive command. The response is 202 because
// the layout confirms the position later; clients poll or watch MQTT for
// known_state.
func (s *Server) handleSetTurnoutState(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTurnout(w, r)
	if !ok {
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	state, err := turnout.ParseState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if err := t.SetCommandedState(state); err != nil {
		switch {
		case errors.Is(err, turnout.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, turnout.ErrDisposed):
			writeError(w, http.StatusConflict, ErrCodeConflict, "turnout has been removed")
		default:
			s.logger.Error("setting turnout state", "address", t.Address(), "error", err)
			writeInternalError(w, "failed to set state")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, toTurnoutResponse(t.Snapshot()))
}

// handleSetKnownState records a position observed off the bus, e.g. after
// the points were moved by hand. Nothing is sent to the command station.
func (s *Server) handleSetKnownState(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTurnout(w, r)
	if !ok {
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	state, err := turnout.ParseKnownState(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if err := t.SetKnownState(state); err != nil {
		switch {
		case errors.Is(err, turnout.ErrDisposed):
			writeError(w, http.StatusConflict, ErrCodeConflict, "turnout has been removed")
		default:
			s.logger.Error("setting known state", "address", t.Address(), "error", err)
			writeInternalError(w, "failed to set known state")
		}
		return
	}

	s.logger.Info("known state set manually", "address", t.Address(), "state", state.String())
	writeJSON(w, http.StatusOK, toTurnoutResponse(t.Snapshot()))
}

func (s *Server) handleTurnoutHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is not available")
		return
	}
	t, ok := s.lookupTurnout(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeBadRequest(w, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	entries, err := s.history.GetHistory(r.Context(), t.Address(), limit)
	if err != nil {
		s.logger.Error("reading turnout history", "address", t.Address(), "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			ID:        e.ID,
			Property:  string(e.Property),
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
			Timestamp: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": t.Address(),
		"history": out,
	})
}

// lookupTurnout resolves the {address} URL parameter, writing the error
// response itself when it fails.
func (s *Server) lookupTurnout(w http.ResponseWriter, r *http.Request) (*turnout.Turnout, bool) {
	raw := chi.URLParam(r, "address")
	address, err := strconv.Atoi(raw)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid address %q", raw))
		return nil, false
	}
	t, err := s.turnouts.Get(address)
	if err != nil {
		writeNotFound(w, fmt.Sprintf("turnout %d is not configured", address))
		return nil, false
	}
	return t, true
}
