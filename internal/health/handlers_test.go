package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vecino-labs/backend-vecino/internal/health"
)

func TestLive(t *testing.T) {
	h := health.Handler{}
	rec := httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestReadyAllHealthy(t *testing.T) {
	h := health.Handler{
		Probes: map[string]health.Probe{
			"db":    func(context.Context, time.Duration) error { return nil },
			"redis": func(context.Context, time.Duration) error { return nil },
		},
	}
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, "ok", status["db"])
	require.Equal(t, "ok", status["redis"])
}

func TestReadyDependencyDown(t *testing.T) {
	h := health.Handler{
		Probes: map[string]health.Probe{
			"db":    func(context.Context, time.Duration) error { return nil },
			"redis": func(context.Context, time.Duration) error { return errors.New("connection refused") },
		},
	}
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, "ok", status["db"])
	require.Equal(t, "connection refused", status["redis"])
}

func TestReadyNoProbes(t *testing.T) {
	h := health.Handler{}
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
