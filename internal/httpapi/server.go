package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/intent"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/mirror"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/router"
)

const ownerHeader = "X-Owner-ID"

// Deps are the collaborators the API serves. Auditor may be nil when the
// graph mirror is off; the sync endpoints then answer 503.
type Deps struct {
	Coordinator    *mirror.Coordinator
	Auditor        *mirror.Auditor
	Router         *router.Router
	Classifier     *intent.Classifier
	Collector      *observability.Collector
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
	AllowAnyOrigin bool
	Logger         *zap.Logger
}

type Server struct {
	coord      *mirror.Coordinator
	engine     *memory.Engine
	auditor    *mirror.Auditor
	router     *router.Router
	classifier *intent.Classifier
	collector  *observability.Collector
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	validate   *requestValidator
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	allowAny := d.AllowAnyOrigin
	return &Server{
		coord:      d.Coordinator,
		engine:     d.Coordinator.Engine(),
		auditor:    d.Auditor,
		router:     d.Router,
		classifier: d.Classifier,
		collector:  d.Collector,
		metrics:    d.Metrics,
		gatherer:   gatherer,
		validate:   newRequestValidator(),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only subscribe from the same origin unless explicitly opened up.
				if allowAny {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", observability.MetricsHandler(s.gatherer))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/classify", s.handleClassify)
		r.Get("/stats", s.handleStats)
		r.Get("/perf/latency", s.handlePerfLatency)

		r.Route("/memories", func(r chi.Router) {
			r.Post("/", s.handleAddMemory)
			r.Get("/", s.handleSearchMemories)
			r.Delete("/", s.handleDeleteByTopic)
			r.Get("/recent", s.handleRecentMemories)
			r.Get("/events", s.handleMemoryEvents)
			r.Delete("/all", s.handleClearMemories)
			r.Get("/{id}", s.handleGetMemory)
			r.Put("/{id}", s.handleUpdateMemory)
			r.Delete("/{id}", s.handleDeleteMemory)
		})

		r.Get("/sync/audit", s.handleAudit)
		r.Post("/sync/repair", s.handleRepair)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mirror_enabled": s.coord.Enabled(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Owners(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"mirror_enabled":  s.coord.Enabled(),
		"mirror_queue":    s.coord.QueueDepth(),
		"metrics_dropped": s.collector.Dropped(),
	})
}

// ownerID reads the owner from the X-Owner-ID header, then the owner_id query
// parameter. It writes a 400 and returns false when neither is set.
func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(ownerHeader))
	if owner == "" {
		owner = strings.TrimSpace(r.URL.Query().Get("owner_id"))
	}
	if owner == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "X-Owner-ID header or owner_id query parameter is required")
		return "", false
	}
	return owner, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
