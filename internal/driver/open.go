package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jamicool/PPD/internal/config"
	"github.com/jamicool/PPD/internal/observability"
	"github.com/jamicool/PPD/internal/retry"
)

// Open connects the store selected by cfg and ensures its schema exists.
// Databases that are still starting up are retried with backoff.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (ProjectStore, error) {
	logger = observability.OrDiscard(logger)
	policy := retry.Config{
		MaxAttempts:  cfg.Storage.ConnectAttempts,
		InitialDelay: cfg.Storage.ConnectDelay.Duration,
		MaxDelay:     10 * time.Second,
		Factor:       2,
		Jitter:       true,
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var store ProjectStore
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		s, err := connect(ctx, cfg, logger, metrics)
		if err != nil {
			logger.Warn("storage not ready", "driver", cfg.Storage.Driver, "error", err)
			return err
		}
		if err := s.BuildIndices(ctx); err != nil {
			s.Close(ctx)
			logger.Warn("storage schema bootstrap failed", "driver", cfg.Storage.Driver, "error", err)
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open %s storage after %d attempts: %w", cfg.Storage.Driver, attempts, err)
	}
	logger.Info("storage ready", "driver", cfg.Storage.Driver, "attempts", attempts)
	return store, nil
}

func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (ProjectStore, error) {
	switch cfg.Storage.Driver {
	case "sqlite", "postgres":
		s, err := OpenSQL(Dialect(cfg.Storage.Driver), cfg.Storage.DSN, metrics)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if err := s.Ping(ctx); err != nil {
			s.Close(ctx)
			return nil, err
		}
		return s, nil
	case "memgraph":
		d, err := NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password)
		if err != nil {
			return nil, err
		}
		return NewGraphStore(d, logger, metrics), nil
	default:
		return nil, retry.Permanent(fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver))
	}
}
