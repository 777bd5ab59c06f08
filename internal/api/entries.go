package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rowanvale/heliograph/internal/audit"
	"github.com/rowanvale/heliograph/internal/entry"
)

// handleListEntries returns all configured entries.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list entries", "error", err)
		writeInternalError(w, "failed to list entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleGetEntry returns a single entry by ID.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := s.entries.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleDeleteEntry removes an entry. The store broadcasts the deletion
// so the coordinator stops its poll worker and publishes offline.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.entries.Delete(r.Context(), id); err != nil {
		if !errors.Is(err, entry.ErrEntryNotFound) {
			s.logger.Error("failed to delete entry", "entry_id", id, "error", err)
		}
		writeDomainError(w, err)
		return
	}

	s.auditLog(audit.ActionEntryDeleted, audit.EntityEntry, id, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleReloadEntry re-emits the entry so its poll worker restarts with
// freshly loaded config. Returns 202: the restart happens async.
func (s *Server) handleReloadEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.entries.Reload(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "reloading",
		"entry_id": id,
	})
}

// handleEntryStats returns aggregate counts over the entry table.
func (s *Server) handleEntryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.entries.GetStats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute entry stats", "error", err)
		writeInternalError(w, "failed to compute entry stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
