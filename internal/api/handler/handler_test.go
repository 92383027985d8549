package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/open-apime/relay/internal/manager"
	"github.com/open-apime/relay/internal/session"
	"github.com/open-apime/relay/internal/transport/transporttest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stoppedTimer struct{}

func (stoppedTimer) Stop() bool { return true }

func newTestManager(t *testing.T, removeAll func(string) error) (*manager.Manager, *transporttest.Factory) {
	t.Helper()
	factory := &transporttest.Factory{}
	mgr := manager.New(manager.Config{SessionsDir: t.TempDir()}, manager.Deps{
		Factory:   factory,
		Schedule:  func(time.Duration, func()) session.Timer { return stoppedTimer{} },
		RemoveAll: removeAll,
		Sleep:     func(ctx context.Context, d time.Duration) error { return nil },
	})
	t.Cleanup(mgr.ShutdownAll)
	return mgr, factory
}

func perform(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
