package dispatch

import (
	"context"
	"time"
	"unicode/utf8"
)

const (
	perCharTyping = 50 * time.Millisecond
	maxTyping     = 5 * time.Second
)

// ThinkTime simula o tempo de digitação: proporcional ao texto, limitado a
// 5s, nunca menor que o atraso configurado.
func ThinkTime(delay time.Duration, text string) time.Duration {
	typing := time.Duration(utf8.RuneCountInString(text)) * perCharTyping
	if typing > maxTyping {
		typing = maxTyping
	}
	if delay > typing {
		return delay
	}
	return typing
}

// sleepCtx espera d ou até ctx ser cancelado.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
