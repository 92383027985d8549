package ratelimiter

import (
	"context"
	"time"
)

// Result descreve a decisão para uma requisição.
type Result struct {
	Allowed    bool
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter aplica janelas fixas de tamanho window por chave. Implementações:
// memory (processo único) e redis (script atômico INCR + PEXPIRE).
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Decide monta o Result a partir da contagem da janela atual e do tempo que
// falta para ela expirar.
func Decide(count int64, limit int, now time.Time, resetAfter time.Duration) *Result {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	if resetAfter < 0 {
		resetAfter = 0
	}
	return &Result{
		Allowed:    count <= int64(limit),
		Remaining:  int(remaining),
		Reset:      now.Add(resetAfter),
		RetryAfter: resetAfter,
	}
}
