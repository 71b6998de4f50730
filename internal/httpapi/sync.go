package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/graph"
)

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	if s.auditor == nil {
		respondError(w, http.StatusServiceUnavailable, "mirror_disabled", graph.ErrDisabled.Error())
		return
	}
	report, err := s.auditor.Audit(r.Context(), owner)
	if err != nil {
		s.respondSyncError(w, owner, "audit", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"report":  report,
		"in_sync": report.InSync(),
	})
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	if s.auditor == nil {
		respondError(w, http.StatusServiceUnavailable, "mirror_disabled", graph.ErrDisabled.Error())
		return
	}
	result, err := s.auditor.Repair(r.Context(), owner)
	if err != nil {
		s.respondSyncError(w, owner, "repair", err)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

func (s *Server) respondSyncError(w http.ResponseWriter, owner, op string, err error) {
	if errors.Is(err, graph.ErrDisabled) {
		respondError(w, http.StatusServiceUnavailable, "mirror_disabled", err.Error())
		return
	}
	s.logger.Warn("sync operation failed", zap.String("op", op), zap.String("owner_id", owner), zap.Error(err))
	respondError(w, http.StatusBadGateway, "mirror_unavailable", err.Error())
}
