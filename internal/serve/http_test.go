package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskinsure/fileretrieval/internal/bus"
	"github.com/riskinsure/fileretrieval/internal/catalog"
	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/metrics"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestHandler(t *testing.T, health error) (http.Handler, *bus.Memory) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.NewPrometheus(reg).CapacityExceeded()
	b := bus.NewMemory(4)
	configs := catalog.NewMemory(domain.Configuration{ClientID: "acme", ID: "orders", Active: true})
	return NewHandler(pinger{health}, reg, configs, b, nil).Routes(), b
}

func TestHandler_Healthz(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	h, _ = newTestHandler(t, errors.New("database is locked"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestHandler_Metrics(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fileretrieval_")
}

func TestHandler_TriggerEnqueuesCommand(t *testing.T) {
	h, b := newTestHandler(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/configurations/acme/orders/trigger", nil)
	req.Header.Set("X-Triggered-By", "user-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp triggerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-42", resp.TriggeredBy)
	assert.NotEmpty(t, resp.IdempotencyKey)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan domain.ExecuteFileCheck, 1)
	go b.Consume(ctx, func(ctx context.Context, msg bus.Message) error {
		var cmd domain.ExecuteFileCheck
		require.NoError(t, msg.Decode(&cmd))
		got <- cmd
		return nil
	})
	cmd := <-got
	cancel()
	assert.Equal(t, "acme", cmd.ClientID)
	assert.Equal(t, "orders", cmd.ConfigurationID)
	assert.True(t, cmd.IsManualTrigger)
	assert.Equal(t, "user-42", cmd.TriggeredBy)
	assert.Equal(t, resp.IdempotencyKey, cmd.IdempotencyKey)
}

func TestHandler_TriggerErrors(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	tests := []struct {
		name   string
		target string
		user   string
		want   int
	}{
		{"missing user", "/configurations/acme/orders/trigger", "", http.StatusBadRequest},
		{"unknown configuration", "/configurations/acme/invoices/trigger?user=ops", "", http.StatusNotFound},
		{"user from query", "/configurations/acme/orders/trigger?user=ops", "", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, nil)
			if tt.user != "" {
				req.Header.Set("X-Triggered-By", tt.user)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
