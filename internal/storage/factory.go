package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/config"
	"github.com/open-apime/relay/internal/pkg/queue"
	queue_memory "github.com/open-apime/relay/internal/pkg/queue/memory"
	queue_redis "github.com/open-apime/relay/internal/pkg/queue/redis"
	"github.com/open-apime/relay/internal/pkg/ratelimiter"
	limiter_memory "github.com/open-apime/relay/internal/pkg/ratelimiter/memory"
	limiter_redis "github.com/open-apime/relay/internal/pkg/ratelimiter/redis"
	"github.com/open-apime/relay/internal/storage/postgres"
	storage_redis "github.com/open-apime/relay/internal/storage/redis"
	"github.com/open-apime/relay/internal/storage/sqlite"
)

const (
	webhookQueueKey  = "relay:webhook:events"
	webhookQueueSize = 10000
)

type Repositories struct {
	User         UserRepository
	Log          LogRepository
	RedisClient  *storage_redis.Client // Pode ser nil se Redis estiver desabilitado
	WebhookQueue queue.Queue
	RateLimiter  ratelimiter.Limiter

	closeDB func() error
}

// Close libera a conexão com o banco relacional.
func (r *Repositories) Close() error {
	if r.closeDB == nil {
		return nil
	}
	return r.closeDB()
}

// NewRepositories abre o banco relacional e escolhe fila e limiter em
// memória ou no Redis conforme a configuração.
func NewRepositories(ctx context.Context, cfg config.Config, log *zap.Logger) (*Repositories, error) {
	log.Info("inicializando repositórios",
		zap.String("driver", cfg.Storage.Driver),
	)

	var (
		webhookQueue queue.Queue
		rateLimiter  ratelimiter.Limiter
		storeRedis   *storage_redis.Client
		err          error
	)

	if cfg.Redis.Enabled {
		log.Info("inicializando Redis...")
		storeRedis, err = storage_redis.New(ctx, cfg.Redis, log)
		if err != nil {
			log.Error("erro ao conectar com Redis", zap.Error(err))
			return nil, err
		}

		redisClient := storeRedis.RDB()
		webhookQueue = queue_redis.NewQueue(redisClient, webhookQueueKey, webhookQueueSize)
		rateLimiter = limiter_redis.NewLimiter(redisClient)
		log.Info("Redis conectado, fila e limiter configurados")
	} else {
		log.Info("usando implementações em memória (Redis desabilitado)")
		webhookQueue = queue_memory.NewQueue(webhookQueueSize)
		rateLimiter = limiter_memory.NewLimiter()
	}

	switch cfg.Storage.Driver {
	case "sqlite", "":
		log.Debug("criando conexão com SQLite")
		db, err := sqlite.New(cfg.Storage.DataDir, log)
		if err != nil {
			log.Error("erro ao conectar com SQLite", zap.Error(err))
			return nil, err
		}

		log.Info("repositórios SQLite criados com sucesso", zap.String("data_dir", cfg.Storage.DataDir))
		return &Repositories{
			User:         sqlite.NewUserRepository(db),
			Log:          sqlite.NewLogRepository(db),
			RedisClient:  storeRedis,
			WebhookQueue: webhookQueue,
			RateLimiter:  rateLimiter,
			closeDB:      db.Close,
		}, nil

	case "postgres":
		log.Debug("criando conexão com PostgreSQL")
		db, err := postgres.New(ctx, cfg.DB, log)
		if err != nil {
			log.Error("erro ao conectar com PostgreSQL", zap.Error(err))
			return nil, err
		}

		log.Info("repositórios PostgreSQL criados com sucesso")
		return &Repositories{
			User:         postgres.NewUserRepository(db),
			Log:          postgres.NewLogRepository(db),
			RedisClient:  storeRedis,
			WebhookQueue: webhookQueue,
			RateLimiter:  rateLimiter,
			closeDB: func() error {
				db.Close()
				return nil
			},
		}, nil

	default:
		log.Error("driver de storage desconhecido",
			zap.String("driver", cfg.Storage.Driver),
		)
		return nil, &ErrUnknownDriver{Driver: cfg.Storage.Driver}
	}
}

type ErrUnknownDriver struct {
	Driver string
}

func (e *ErrUnknownDriver) Error() string {
	return "storage: driver desconhecido: " + e.Driver
}
