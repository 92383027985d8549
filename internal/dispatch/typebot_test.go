package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartChatRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"sessionId":"sess-1","messages":[{"type":"text","content":{"text":"Olá!"}}]}`))
	}))
	defer srv.Close()

	c := NewTypebotClient(time.Second)
	resp, err := c.StartChat(context.Background(), StartRequest{
		BaseURL:     srv.URL + "/",
		Typebot:     "vendas",
		APIKey:      "tb-key",
		Message:     "oi",
		DisplayName: "Maria",
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/typebots/vendas/startChat", gotPath)
	assert.Equal(t, "Bearer tb-key", gotAuth)
	assert.Equal(t, false, gotBody["isStreamEnabled"])
	assert.Equal(t, "oi", gotBody["message"])
	assert.Equal(t, map[string]any{"name": "Maria"}, gotBody["user"])
	assert.Equal(t, "sess-1", resp.SessionID)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "Olá!", resp.Messages[0].Content.PlainText())
}

func TestContinueChatRequest(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"messages":[]}`))
	}))
	defer srv.Close()

	c := NewTypebotClient(time.Second)
	_, err := c.ContinueChat(context.Background(), ContinueRequest{BaseURL: srv.URL, SessionID: "sess-1", Message: "sim"})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/sessions/sess-1/continueChat", gotPath)
	assert.Empty(t, gotAuth)
}

func TestContinueChatNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Session not found."}`))
	}))
	defer srv.Close()

	c := NewTypebotClient(time.Second)
	_, err := c.ContinueChat(context.Background(), ContinueRequest{BaseURL: srv.URL, SessionID: "velha", Message: "oi"})

	assert.ErrorIs(t, err, ErrSessionNotFound)
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.Contains(t, backendErr.Body, "Session not found")
}

func TestServerErrorIsNotSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewTypebotClient(time.Second).StartChat(context.Background(), StartRequest{BaseURL: srv.URL, Typebot: "x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionNotFound))
}

func TestErrorBodyCutOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("ã", maxErrorBody+20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := NewTypebotClient(time.Second).StartChat(context.Background(), StartRequest{BaseURL: srv.URL, Typebot: "x"})
	var backendErr *BackendError
	require.True(t, errors.As(err, &backendErr))
	assert.True(t, utf8.ValidString(backendErr.Body))
	assert.Equal(t, strings.Repeat("ã", maxErrorBody)+"…", backendErr.Body)
}

func TestPlainTextFromRichText(t *testing.T) {
	var content SegmentContent
	raw := `{"richText":[
		{"type":"p","children":[{"text":"Olá, "},{"text":"Maria","bold":true}]},
		{"type":"p","children":[{"type":"a","children":[{"text":"veja o site"}]}]}
	]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &content))
	assert.Equal(t, "Olá, Maria\nveja o site", content.PlainText())
}
