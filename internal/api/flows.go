package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rowanvale/heliograph/internal/flow"
)

// writeFlowResult writes a flow step outcome. Created results are 201,
// forms and aborts 200; an abort is a valid outcome, not an HTTP error.
func writeFlowResult(w http.ResponseWriter, res *flow.Result) {
	status := http.StatusOK
	if res.Kind == flow.ResultCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// handleStartSetup begins a user-initiated setup flow and returns its
// first form.
func (s *Server) handleStartSetup(w http.ResponseWriter, r *http.Request) {
	res, err := s.flows.StartSetup(r.Context())
	if err != nil {
		s.logger.Error("failed to start setup flow", "error", err)
		writeDomainError(w, err)
		return
	}
	writeFlowResult(w, res)
}

// handleGetSetup returns the current form of an in-flight setup flow.
func (s *Server) handleGetSetup(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	res, err := s.flows.GetSetup(r.Context(), flowID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeFlowResult(w, res)
}

// handleSubmitSetup feeds user-form input to a setup flow. The request
// body is the form values object; the response is the step result
// (redisplayed form, abort, or created entry).
func (s *Server) handleSubmitSetup(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	var input map[string]any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.flows.SubmitSetup(r.Context(), flowID, input)
	if err != nil {
		if !errors.Is(err, flow.ErrFlowNotFound) && !errors.Is(err, flow.ErrInvalidInput) {
			s.logger.Error("setup submit failed", "flow_id", flowID, "error", err)
		}
		writeDomainError(w, err)
		return
	}
	writeFlowResult(w, res)
}

// handleStartReauth begins a reauthentication flow against an existing
// entry.
func (s *Server) handleStartReauth(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	res, err := s.flows.StartReauth(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeFlowResult(w, res)
}

// handleStartOptions begins an options flow for an entry, returning the
// form seeded from the entry's current options.
func (s *Server) handleStartOptions(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entryID")

	res, err := s.flows.StartOptions(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeFlowResult(w, res)
}

// handleGetOptionsFlow returns the current form of an in-flight options
// flow.
func (s *Server) handleGetOptionsFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	res, err := s.flows.GetOptions(r.Context(), flowID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeFlowResult(w, res)
}

// handleSubmitOptions persists submitted option values and finishes the
// flow.
func (s *Server) handleSubmitOptions(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	var input map[string]any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.flows.SubmitOptions(r.Context(), flowID, input)
	if err != nil {
		if !errors.Is(err, flow.ErrFlowNotFound) && !errors.Is(err, flow.ErrInvalidInput) {
			s.logger.Error("options submit failed", "flow_id", flowID, "error", err)
		}
		writeDomainError(w, err)
		return
	}
	writeFlowResult(w, res)
}

// handleCancelFlow abandons an in-flight flow of either kind.
func (s *Server) handleCancelFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")

	if err := s.flows.Cancel(r.Context(), flowID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDiscovery injects a discovery event, reconciled exactly like an
// mDNS announcement. Used by tests and manual setups where multicast
// does not reach the host.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var ev flow.DiscoveryEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.flows.HandleDiscovery(r.Context(), ev, flow.SourceAPI)
	if err != nil {
		if !errors.Is(err, flow.ErrInvalidEvent) {
			s.logger.Error("discovery reconciliation failed",
				"serial", ev.Serial, "host", ev.Host, "error", err)
		}
		writeDomainError(w, err)
		return
	}
	writeFlowResult(w, res)
}
