package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/metrics"
)

func TestInstanceMetrics(t *testing.T) {
	store, err := metrics.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	store.TrackReceived("loja")
	store.TrackReceived("loja")
	store.TrackTypebot("loja", true, 200*time.Millisecond)

	r := gin.New()
	NewMetricsHandler(store).Register(r)

	w := perform(r, http.MethodGet, "/instances/loja/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["messagesReceived"])
	assert.EqualValues(t, 1, body["typebotSuccess"])

	w = perform(r, http.MethodGet, "/instances/nova/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["messagesReceived"])

	w = perform(r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decode(t, w)
	assert.Contains(t, all, "loja")
	assert.NotContains(t, all, "nova")
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(func() any { return gin.H{"queued": 0} })
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	r := gin.New()
	h.Register(r)

	w := perform(r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["timestamp"])
	assert.Equal(t, map[string]any{"queued": float64(0)}, body["queues"])

	w = perform(r, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Relay", decode(t, w)["name"])
}
