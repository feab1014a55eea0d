package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/riskinsure/fileretrieval/internal/bus"
	"github.com/riskinsure/fileretrieval/internal/dispatch"
	"github.com/riskinsure/fileretrieval/internal/domain"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the ops endpoints and manual triggers.
type Handler struct {
	health    Pinger
	gatherer  prometheus.Gatherer
	configs   dispatch.ConfigurationRepository
	publisher bus.Publisher
	log       *zap.Logger
	clock     func() time.Time
}

// NewHandler creates the ops HTTP handler. A nil log discards output.
func NewHandler(health Pinger, gatherer prometheus.Gatherer, configs dispatch.ConfigurationRepository, publisher bus.Publisher, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		health:    health,
		gatherer:  gatherer,
		configs:   configs,
		publisher: publisher,
		log:       log.Named("http"),
		clock:     time.Now,
	}
}

// Routes returns the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.Post("/configurations/{clientID}/{configurationID}/trigger", h.trigger)
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type triggerResponse struct {
	ClientID        string `json:"clientId"`
	ConfigurationID string `json:"configurationId"`
	TriggeredBy     string `json:"triggeredBy"`
	IdempotencyKey  string `json:"idempotencyKey"`
}

// trigger enqueues a manual check and answers 202 once the command is on
// the bus. The user comes from the X-Triggered-By header or the user query
// parameter.
func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	configurationID := chi.URLParam(r, "configurationID")
	user := r.Header.Get("X-Triggered-By")
	if user == "" {
		user = r.URL.Query().Get("user")
	}
	if user == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-Triggered-By header or user parameter is required"})
		return
	}

	if _, err := h.configs.GetByID(r.Context(), clientID, configurationID); err != nil {
		if errors.Is(err, domain.ErrConfigurationNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("loading configuration", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "loading configuration failed"})
		return
	}

	cmd := dispatch.ManualCommand(clientID, configurationID, user, h.clock())
	if err := dispatch.Enqueue(r.Context(), h.publisher, cmd); err != nil {
		h.log.Error("enqueueing manual trigger", zap.String("client_id", clientID), zap.String("configuration_id", configurationID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "enqueueing trigger failed"})
		return
	}

	h.log.Info("manual trigger accepted",
		zap.String("client_id", clientID), zap.String("configuration_id", configurationID),
		zap.String("triggered_by", user), zap.String("idempotency_key", cmd.IdempotencyKey))
	writeJSON(w, http.StatusAccepted, triggerResponse{
		ClientID:        clientID,
		ConfigurationID: configurationID,
		TriggeredBy:     user,
		IdempotencyKey:  cmd.IdempotencyKey,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
