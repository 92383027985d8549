// Package app monta os componentes do relay e controla o ciclo de vida do
// servidor HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/api/handler"
	"github.com/open-apime/relay/internal/api/middleware"
	"github.com/open-apime/relay/internal/config"
	"github.com/open-apime/relay/internal/dispatch"
	"github.com/open-apime/relay/internal/logsink"
	"github.com/open-apime/relay/internal/manager"
	"github.com/open-apime/relay/internal/metrics"
	"github.com/open-apime/relay/internal/pkg/queue"
	"github.com/open-apime/relay/internal/server"
	"github.com/open-apime/relay/internal/service/auth"
	"github.com/open-apime/relay/internal/service/user"
	"github.com/open-apime/relay/internal/session"
	"github.com/open-apime/relay/internal/storage"
	"github.com/open-apime/relay/internal/transport/whatsmeow"
	"github.com/open-apime/relay/internal/webhook"
	"github.com/open-apime/relay/internal/webhook/delivery"
)

const bootTimeout = 30 * time.Second

type App struct {
	cfg config.Config
	log *zap.Logger

	repos       *storage.Repositories
	logs        *logsink.Buffer
	metrics     *metrics.Store
	manager     *manager.Manager
	webhookPool *webhook.Pool
	replyPool   *dispatch.ReplyPool
	watchdog    *session.Watchdog
	server      *http.Server

	runCtx context.Context
	cancel context.CancelFunc
}

// New cria todos os componentes; nada é iniciado até Run.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), bootTimeout)
	defer cancel()

	repos, err := storage.NewRepositories(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("app: storage: %w", err)
	}

	logs := logsink.New(log, repos.Log)
	if err := logs.Preload(ctx); err != nil {
		log.Warn("falha ao carregar logs persistidos", zap.Error(err))
	}

	metricsStore, err := metrics.NewStore(cfg.Storage.MetricsPath(), log)
	if err != nil {
		_ = repos.Close()
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	webhookTimeout := time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second
	typebotTimeout := time.Duration(cfg.Typebot.TimeoutSeconds) * time.Second

	webhookPool := webhook.NewPool(
		repos.WebhookQueue,
		delivery.NewDelivery(log, webhookTimeout),
		cfg.Webhook.Secret,
		logs, log, cfg.Webhook.Workers,
	)
	replyPool := dispatch.NewReplyPool(cfg.Relay.ReplyWorkers, cfg.Relay.ReplyQueueSize, log)

	dispatcher := dispatch.New(dispatch.Options{
		Webhook: webhook.NewPublisher(repos.WebhookQueue, log),
		Backend: dispatch.NewTypebotClient(typebotTimeout),
		Media:   dispatch.NewHTTPMediaFetcher(typebotTimeout),
		Pool:    replyPool,
		Metrics: metricsStore,
		Sink:    logs,
		Log:     log,
	})

	mgr := manager.New(manager.Config{
		SessionsDir: cfg.Storage.SessionsPath(),
		EncKey:      cfg.Settings.EncryptionKey,
		SettleDelay: time.Duration(cfg.Relay.RemoveSettleMs) * time.Millisecond,
	}, manager.Deps{
		Factory:    whatsmeow.NewFactory(log),
		Dispatcher: dispatcher,
		Metrics:    metricsStore,
		Sink:       logs,
		Log:        log,
		OnRemove: func(ctx context.Context, id string) {
			if err := metricsStore.Delete(id); err != nil {
				log.Warn("falha ao remover métricas", zap.String("instance_id", id), zap.Error(err))
			}
		},
	})

	authService := auth.NewService(cfg.JWT.Secret, cfg.JWT.ExpHours, repos.User)
	userService := user.NewService(repos.User)
	if err := userService.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Password, log); err != nil {
		_ = repos.Close()
		return nil, fmt.Errorf("app: admin inicial: %w", err)
	}

	router := server.NewRouter(server.Options{
		Env:             cfg.App.Env,
		Logger:          log,
		Identity:        authService,
		HealthHandler:   handler.NewHealthHandler(healthStats(replyPool, repos.WebhookQueue)),
		AuthHandler:     handler.NewAuthHandler(authService, log),
		InstanceHandler: handler.NewInstanceHandler(mgr, log),
		MetricsHandler:  handler.NewMetricsHandler(metricsStore),
		LogHandler:      handler.NewLogHandler(logs),
		UserHandler:     handler.NewUserHandler(userService),
		RateLimit: middleware.RateLimitOption{
			Enabled:  cfg.RateLimit.Enabled,
			Requests: cfg.RateLimit.Requests,
			Window:   time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
			Prefix:   cfg.RateLimit.Prefix,
			Limiter:  repos.RateLimiter,
			Logger:   log,
		},
		IPRateLimit: middleware.IPRateLimitOption{
			Enabled:        cfg.IPRateLimit.Enabled,
			Requests:       cfg.IPRateLimit.Requests,
			WindowSeconds:  cfg.IPRateLimit.WindowSeconds,
			SkipPrivateIPs: cfg.IPRateLimit.SkipPrivateIPs,
			Limiter:        repos.RateLimiter,
			Logger:         log,
		},
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	return &App{
		cfg:         cfg,
		log:         log,
		repos:       repos,
		logs:        logs,
		metrics:     metricsStore,
		manager:     mgr,
		webhookPool: webhookPool,
		replyPool:   replyPool,
		watchdog:    session.NewWatchdog(mgr.Instances, 0, log),
		server: &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		runCtx: runCtx,
		cancel: runCancel,
	}, nil
}

// Run inicia os workers, sobe o servidor e só então carrega as instâncias
// existentes. Bloqueia até o servidor parar.
func (a *App) Run() error {
	ctx := a.runCtx

	a.webhookPool.Start(ctx)
	a.replyPool.Start(ctx)
	go a.watchdog.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("servidor HTTP iniciado", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go func() {
		a.logs.Add(logsink.CategorySystem, logsink.LevelInfo, "", "Iniciando carregamento de instâncias")
		if _, err := a.manager.LoadExisting(ctx); err != nil {
			a.log.Error("falha ao carregar instâncias", zap.Error(err))
		}
	}()

	return <-errCh
}

// Shutdown para o servidor, fecha as sessões sem apagar credenciais e
// libera os recursos.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)

	a.manager.ShutdownAll()
	a.cancel()
	a.replyPool.Stop()
	a.webhookPool.Stop()

	if a.repos.RedisClient != nil {
		if cerr := a.repos.RedisClient.Close(); cerr != nil {
			a.log.Warn("erro ao fechar conexão Redis", zap.Error(cerr))
		}
	}
	if cerr := a.repos.Close(); cerr != nil {
		a.log.Warn("erro ao fechar banco", zap.Error(cerr))
	}
	return err
}

func healthStats(replies *dispatch.ReplyPool, webhooks queue.Queue) func() any {
	return func() any {
		stats := gin.H{"replyPool": replies.Stats()}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if n, err := webhooks.Size(ctx); err == nil {
			stats["webhookQueue"] = n
		}
		if d, ok := webhooks.(interface{ Dropped() int64 }); ok {
			stats["webhookDropped"] = d.Dropped()
		}
		return stats
	}
}
