package handler

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-apime/relay/internal/logsink"
)

func TestListLogs(t *testing.T) {
	buf := logsink.New(nil, nil)
	buf.Add(logsink.CategorySystem, logsink.LevelInfo, "", "primeira")
	buf.Add(logsink.CategoryWhatsApp, logsink.LevelWarn, "loja", "segunda")

	r := gin.New()
	NewLogHandler(buf).Register(r)

	w := perform(r, http.MethodGet, "/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Less(t, strings.Index(body, "segunda"), strings.Index(body, "primeira"))
	assert.Contains(t, body, `"instance":"loja"`)
}

func TestStreamLogs(t *testing.T) {
	buf := logsink.New(nil, nil)
	h := NewLogHandler(buf)
	h.heartbeat = time.Hour

	r := gin.New()
	h.Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs/stream", nil)
	require.NoError(t, err)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf.Add(logsink.CategoryWhatsApp, logsink.LevelInfo, "loja", "Conectado")

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		}
	}
	assert.Equal(t, "new_log", event)
	assert.Contains(t, data, `"message":"Conectado"`)
	assert.Contains(t, data, `"instance":"loja"`)
}
