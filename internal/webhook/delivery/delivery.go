package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	userAgent = "Relay/1.0"

	// SignatureHeader carrega o HMAC-SHA256 do corpo quando há segredo.
	SignatureHeader = "X-Relay-Signature"
)

// StatusError é devolvido quando o destino responde fora da faixa 2xx.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("delivery: status %d", e.StatusCode)
}

// Delivery faz um único POST por evento.
type Delivery struct {
	client *http.Client
	log    *zap.Logger
}

func NewDelivery(log *zap.Logger, timeout time.Duration) *Delivery {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Delivery{
		client: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (d *Delivery) Deliver(ctx context.Context, url, secret string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("delivery: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("delivery: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery: request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	d.log.Debug("delivery: sucesso", zap.String("webhook", url))
	return nil
}

// Sign devolve a assinatura no formato "sha256=<hex>".
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
