package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/prescription-ai-platform/internal/config"
)

func TestNewRegistryExposesRuntimeMetrics(t *testing.T) {
	handler := promhttp.HandlerFor(newRegistry(), promhttp.HandlerOpts{})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestNewServerOutlastsInference(t *testing.T) {
	srv := newServer(&appconfig.Config{Port: "9090", VQATimeout: 2 * time.Minute}, http.NotFoundHandler())

	assert.Equal(t, ":9090", srv.Addr)
	assert.Greater(t, srv.WriteTimeout, 2*time.Minute)
	assert.NotZero(t, srv.ReadHeaderTimeout)
}
