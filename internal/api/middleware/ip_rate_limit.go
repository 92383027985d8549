package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/pkg/ratelimiter"
	"github.com/open-apime/relay/internal/pkg/response"
)

type IPRateLimitOption struct {
	Enabled        bool
	Requests       int
	WindowSeconds  int
	Limiter        ratelimiter.Limiter
	Logger         *zap.Logger
	SkipPrivateIPs bool
}

// IPRateLimit limita tentativas por IP nas rotas públicas (login).
func IPRateLimit(opts IPRateLimitOption) gin.HandlerFunc {
	if !opts.Enabled || opts.Limiter == nil || opts.Requests <= 0 || opts.WindowSeconds <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	window := time.Duration(opts.WindowSeconds) * time.Second

	return func(c *gin.Context) {
		clientIP := GetClientIP(c)
		if opts.SkipPrivateIPs && IsPrivateIP(clientIP) {
			c.Next()
			return
		}

		res, err := opts.Limiter.Allow(c.Request.Context(), "ratelimit:ip:"+hashKey(clientIP), opts.Requests, window)
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.Warn("ip rate limit: erro ao consultar limiter", zap.Error(err))
			}
			c.Next()
			return
		}

		setRateHeaders(c, opts.Requests, res)
		if !res.Allowed {
			if opts.Logger != nil {
				opts.Logger.Warn("ip rate limit: limite excedido", zap.String("ip", clientIP))
			}
			response.ErrorWithMessage(c, http.StatusTooManyRequests, "muitas tentativas. tente novamente mais tarde")
			return
		}
		c.Next()
	}
}
