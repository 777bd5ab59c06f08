package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rowanvale/heliograph/internal/audit"
)

// auditChanSize bounds the queue of pending audit writes. A full queue
// drops records rather than stalling request handlers.
const auditChanSize = 256

// auditLog queues one audit record for the background writer.
func (s *Server) auditLog(action, entityType, entityID, flowID string, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	rec := &audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		FlowID:     flowID,
		Source:     "api",
		Details:    details,
	}

	select {
	case s.auditCh <- rec:
	default:
		s.logger.Warn("audit log channel full, dropping record",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// drainAuditLog writes queued records serially, which suits SQLite's
// single-writer model. On shutdown it empties the queue before
// returning.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case rec := <-s.auditCh:
			s.writeAuditRecord(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-s.auditCh:
					s.writeAuditRecord(rec)
				default:
					return
				}
			}
		}
	}
}

// writeAuditRecord uses a fresh context: the request that queued the
// record is long gone, and the shutdown drain must still reach disk.
func (s *Server) writeAuditRecord(rec *audit.AuditLog) {
	if err := s.auditRepo.Create(context.Background(), rec); err != nil {
		s.logger.Error("audit log write failed",
			"action", rec.Action,
			"entity_type", rec.EntityType,
			"error", err,
		)
	}
}

// handleListAuditLogs returns paginated audit records. Filters arrive
// as query parameters: action, entity_type, entity_id, flow_id, limit,
// offset. The repository clamps paging, so junk values degrade to
// defaults instead of erroring.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		FlowID:     q.Get("flow_id"),
		Limit:      queryInt(q, "limit"),
		Offset:     queryInt(q, "offset"),
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeInternalError(w, "could not read audit log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func queryInt(q url.Values, key string) int {
	n, _ := strconv.Atoi(q.Get(key))
	return n
}
