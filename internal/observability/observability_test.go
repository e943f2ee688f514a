package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cellxplore/internal/config"
)

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "cellxplore"}, zapcore.AddSync(&buf))
	logger.Debug("hidden")
	logger.Info("opened", zap.String("path", "brain.zarr"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"level":"INFO"`)
	assert.Contains(t, out, `"logger":"cellxplore"`)
	assert.Contains(t, out, `"path":"brain.zarr"`)
}

func TestLoggerBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "loud", Format: "console"}, zapcore.AddSync(&buf))
	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, logger.Sync())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerRotatedFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cellxplore.log")
	var buf bytes.Buffer
	logger := NewLogger(config.LoggerConfig{Level: "info", Format: "console", LogFile: file, MaxSize: 1}, zapcore.AddSync(&buf))
	logger.Info("to both")
	_ = logger.Sync()
	assert.FileExists(t, file)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRequest("/circos", http.MethodGet, 200, 5*time.Millisecond)
	m.ObserveRequest("/circos", http.MethodGet, 200, 5*time.Millisecond)
	m.ObserveRequest("/filter-table", http.MethodPost, 404, time.Millisecond)
	m.ObserveRows("significant", 12)
	m.StoreOpened(nil)
	m.SetSelections(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/circos", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/filter-table", "POST", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.selections))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rows))

	m.StoreOpened(errors.New("missing root"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.storeOpen))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cellxplore_http_requests_total"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("/x", "GET", 200, time.Second)
	m.ObserveRows("raw", 1)
	m.StoreOpened(nil)
	m.SetSelections(1)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
