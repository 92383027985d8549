package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSessionNotFound indica que o Typebot não reconhece mais a sessão.
var ErrSessionNotFound = errors.New("typebot: sessão não encontrada")

const maxErrorBody = 150

// BackendError é uma resposta fora da faixa 2xx do Typebot.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("typebot: status %d: %s", e.StatusCode, e.Body)
}

func (e *BackendError) Is(target error) bool {
	return target == ErrSessionNotFound && e.StatusCode == http.StatusNotFound
}

// Segment é um bloco da resposta do bot.
type Segment struct {
	Type    string         `json:"type"`
	Content SegmentContent `json:"content"`
}

type SegmentContent struct {
	Text     string     `json:"text,omitempty"`
	RichText []RichNode `json:"richText,omitempty"`
	URL      string     `json:"url,omitempty"`
}

// RichNode é um nó do texto formatado do Typebot (parágrafos com filhos).
type RichNode struct {
	Text     string     `json:"text,omitempty"`
	Children []RichNode `json:"children,omitempty"`
}

// PlainText achata o conteúdo textual: richText tem precedência e cada
// bloco de topo vira uma linha.
func (c SegmentContent) PlainText() string {
	if len(c.RichText) == 0 {
		return c.Text
	}
	lines := make([]string, 0, len(c.RichText))
	for _, block := range c.RichText {
		var b strings.Builder
		flatten(&b, block.Children)
		if len(block.Children) == 0 {
			b.WriteString(block.Text)
		}
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}

func flatten(b *strings.Builder, nodes []RichNode) {
	for _, n := range nodes {
		b.WriteString(n.Text)
		flatten(b, n.Children)
	}
}

type ChatResponse struct {
	SessionID string    `json:"sessionId"`
	Messages  []Segment `json:"messages"`
}

// StartRequest são os parâmetros de início de conversa.
type StartRequest struct {
	BaseURL     string
	Typebot     string
	APIKey      string
	Message     string
	DisplayName string
}

type ContinueRequest struct {
	BaseURL   string
	SessionID string
	APIKey    string
	Message   string
}

// Backend é o motor conversacional consultado a cada mensagem.
type Backend interface {
	StartChat(ctx context.Context, req StartRequest) (*ChatResponse, error)
	ContinueChat(ctx context.Context, req ContinueRequest) (*ChatResponse, error)
}

// TypebotClient fala com a API v1 do Typebot.
type TypebotClient struct {
	client *http.Client
}

func NewTypebotClient(timeout time.Duration) *TypebotClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TypebotClient{client: &http.Client{Timeout: timeout}}
}

func (c *TypebotClient) StartChat(ctx context.Context, req StartRequest) (*ChatResponse, error) {
	endpoint := fmt.Sprintf("%s/api/v1/typebots/%s/startChat",
		strings.TrimRight(req.BaseURL, "/"), url.PathEscape(req.Typebot))
	body := map[string]any{
		"isStreamEnabled": false,
		"message":         req.Message,
		"user":            map[string]string{"name": req.DisplayName},
	}
	return c.post(ctx, endpoint, req.APIKey, body)
}

func (c *TypebotClient) ContinueChat(ctx context.Context, req ContinueRequest) (*ChatResponse, error) {
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/continueChat",
		strings.TrimRight(req.BaseURL, "/"), url.PathEscape(req.SessionID))
	return c.post(ctx, endpoint, req.APIKey, map[string]any{"message": req.Message})
}

func (c *TypebotClient) post(ctx context.Context, endpoint, apiKey string, body any) (*ChatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("typebot: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("typebot: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("typebot: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("typebot: ler resposta: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := truncate(strings.TrimSpace(string(raw)), maxErrorBody)
		return nil, &BackendError{StatusCode: resp.StatusCode, Body: text}
	}

	var out ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("typebot: decodificar resposta: %w", err)
	}
	return &out, nil
}
