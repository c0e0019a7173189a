package repositories

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"slimcast/internal/core/ports"
	"slimcast/internal/infrastructure/repositories/memory"
	redisrepo "slimcast/internal/infrastructure/repositories/redis"
	"slimcast/pkg/config"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory. When Redis is
// enabled but unreachable, the factory falls back to memory repositories so
// the audio path never depends on the registry backend.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err)
			factory.useRedis = false
		} else {
			factory.redisClient = client
		}
	}

	return factory
}

// NewPlayerRepository returns the configured player registry backend.
func (f *RepositoryFactory) NewPlayerRepository() ports.PlayerRepository {
	if f.useRedis {
		f.logger.Infow("using Redis player repository")
		return redisrepo.NewRedisPlayerRepository(f.redisClient)
	}
	f.logger.Infow("using in-memory player repository")
	return memory.NewMemoryPlayerRepository()
}

// Close releases the backing connections.
func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}
