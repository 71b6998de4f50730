package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/memory"
)

type addMemoryRequest struct {
	Content     string   `json:"content" validate:"required,max=4000"`
	Topics      []string `json:"topics" validate:"max=16,dive,max=64"`
	Confidence  *float64 `json:"confidence" validate:"omitempty,gte=0,lte=1"`
	IsProxy     bool     `json:"is_proxy"`
	ProxySource string   `json:"proxy_source" validate:"max=256"`
}

type updateMemoryRequest struct {
	Content string   `json:"content" validate:"required,max=4000"`
	Topics  []string `json:"topics" validate:"max=16,dive,max=64"`
}

type addMemoryResponse struct {
	Stored    bool              `json:"stored"`
	Memory    *memory.Record    `json:"memory,omitempty"`
	Rejection *memory.Rejection `json:"rejection,omitempty"`
}

type deletedResponse struct {
	Deleted []string `json:"deleted"`
	Count   int      `json:"count"`
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req addMemoryRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	outcome, err := s.coord.Add(r.Context(), memory.AddRequest{
		OwnerID:     owner,
		Content:     req.Content,
		Topics:      req.Topics,
		Confidence:  req.Confidence,
		IsProxy:     req.IsProxy,
		ProxySource: req.ProxySource,
	})
	if err != nil {
		s.logger.Error("add memory failed", zap.String("owner_id", owner), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store_error", "failed to store memory")
		return
	}
	if rec, stored := outcome.Record(); stored {
		respondJSON(w, http.StatusCreated, addMemoryResponse{Stored: true, Memory: &rec})
		return
	}
	rej, _ := outcome.Rejection()
	respondJSON(w, rejectionStatus(rej.Reason), addMemoryResponse{Rejection: &rej})
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req updateMemoryRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	rec, err := s.coord.Update(r.Context(), owner, chi.URLParam(r, "id"), req.Content, req.Topics)
	if err != nil {
		s.respondStoreError(w, owner, "update", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	rec, err := s.engine.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, owner, "get", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.coord.Delete(r.Context(), owner, id); err != nil {
		s.respondStoreError(w, owner, "delete", err)
		return
	}
	respondJSON(w, http.StatusOK, deletedResponse{Deleted: []string{id}, Count: 1})
}

// handleDeleteByTopic serves DELETE /v1/memories?topic=a&topic=b. Topics may
// also be comma separated.
func (s *Server) handleDeleteByTopic(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var topics []string
	for _, raw := range r.URL.Query()["topic"] {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}
	if len(topics) == 0 {
		respondError(w, http.StatusBadRequest, "missing_topic", "query parameter topic is required; use /v1/memories/all to clear everything")
		return
	}
	ids, err := s.coord.DeleteByTopic(r.Context(), owner, topics)
	if err != nil {
		s.respondStoreError(w, owner, "delete_by_topic", err)
		return
	}
	respondJSON(w, http.StatusOK, deletedResponse{Deleted: nonNil(ids), Count: len(ids)})
}

func (s *Server) handleClearMemories(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	ids, err := s.coord.Clear(r.Context(), owner)
	if err != nil {
		s.respondStoreError(w, owner, "clear", err)
		return
	}
	respondJSON(w, http.StatusOK, deletedResponse{Deleted: nonNil(ids), Count: len(ids)})
}

// handleSearchMemories lists every memory when q is empty, otherwise scores
// them against q.
func (s *Server) handleSearchMemories(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	opts := memory.SearchOptions{
		Query:        strings.TrimSpace(q.Get("q")),
		Limit:        limit,
		SearchTopics: q.Get("topics") == "true",
	}
	if raw := q.Get("threshold"); raw != "" {
		th, err := strconv.ParseFloat(raw, 64)
		if err != nil || th < 0 || th > 1 {
			respondError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be a number within [0,1]")
			return
		}
		opts.SimilarityThreshold = th
	}
	hits, err := s.engine.Search(r.Context(), owner, opts)
	if err != nil {
		s.respondStoreError(w, owner, "search", err)
		return
	}
	if hits == nil {
		hits = []memory.Scored{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": hits, "count": len(hits)})
}

func (s *Server) handleRecentMemories(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r.URL.Query().Get("limit"), 10)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}
	records, err := s.engine.Recent(r.Context(), owner, limit)
	if err != nil {
		s.respondStoreError(w, owner, "recent", err)
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": records, "count": len(records)})
}

func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return false
	}
	return true
}

func (s *Server) respondStoreError(w http.ResponseWriter, owner, op string, err error) {
	var rejected *memory.RejectedError
	switch {
	case errors.As(err, &rejected):
		respondJSON(w, rejectionStatus(rejected.Rejection.Reason), addMemoryResponse{Rejection: &rejected.Rejection})
	case errors.Is(err, memory.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, memory.ErrValidation):
		respondError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	default:
		s.logger.Error("memory store operation failed", zap.String("op", op), zap.String("owner_id", owner), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store_error", "memory store operation failed")
	}
}

func rejectionStatus(reason memory.RejectReason) int {
	if reason == memory.ReasonValidation {
		return http.StatusUnprocessableEntity
	}
	return http.StatusConflict
}

func queryInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
