package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/router"
)

type queryRequest struct {
	Query string `json:"query" validate:"required,max=4000"`
}

type queryResponse struct {
	Content         string         `json:"content"`
	ResponseType    string         `json:"response_type"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	resp, err := s.router.Handle(r.Context(), owner, req.Query)
	if err != nil {
		var pipeErr *router.PipelineError
		switch {
		case errors.Is(err, router.ErrPipelineTimeout):
			respondError(w, http.StatusGatewayTimeout, "pipeline_timeout", err.Error())
		case errors.As(err, &pipeErr):
			respondError(w, http.StatusBadGateway, "pipeline_error", err.Error())
		default:
			s.logger.Error("query failed", zap.String("owner_id", owner), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "query_error", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, queryResponse{
		Content:         resp.Content,
		ResponseType:    resp.ResponseType,
		ExecutionTimeMS: float64(resp.ExecutionTime.Microseconds()) / 1000,
		Metadata:        resp.Metadata,
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		respondError(w, http.StatusBadRequest, "missing_query", "query parameter q is required")
		return
	}
	respondJSON(w, http.StatusOK, s.classifier.Classify(q))
}

// handleStats serves aggregated query metrics; window defaults to one hour.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_window", "window must be a positive duration such as 15m or 24h")
			return
		}
		window = d
	}
	stats, err := s.collector.GetStatistics(r.Context(), window)
	if err != nil {
		s.logger.Error("statistics failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "stats_error", "failed to aggregate query metrics")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
