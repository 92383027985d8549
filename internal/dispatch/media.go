package dispatch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const maxMediaBytes = 16 << 20

// MediaFetcher baixa a mídia referenciada por um segmento do bot.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, mimeType string, err error)
}

type HTTPMediaFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPMediaFetcher(timeout time.Duration) *HTTPMediaFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPMediaFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxMediaBytes,
	}
}

func (f *HTTPMediaFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("mídia: new request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("mídia: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("mídia: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("mídia: ler: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("mídia: excede o limite de %s", humanize.IBytes(uint64(f.maxBytes)))
	}

	mimeType := resp.Header.Get("Content-Type")
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = parsed
	}
	if mimeType == "" || mimeType == "application/octet-stream" || !strings.Contains(mimeType, "/") {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
