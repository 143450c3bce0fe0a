package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/emilixs/Aicouncil/internal/broadcast"
	"github.com/emilixs/Aicouncil/internal/config"
	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/pgstore"
	"github.com/emilixs/Aicouncil/internal/printer"
	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/internal/resolver"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
)

// council is a connected CLI session: the Redis bus, the store (the bus
// itself unless Postgres is configured) and the environment they came from.
type council struct {
	env   *config.Env
	bus   *blackboard.Client
	store blackboard.Store
}

// loadEnv reads the environment and applies the connection flags over it.
func loadEnv() (*config.Env, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, printer.Error(
			"invalid environment",
			err.Error(),
			[]string{"Check REDIS_URL, COUNCIL_MODE and COUNCIL_PROVIDER_TIMEOUT"},
		)
	}

	if redisURLFlag != "" {
		env.RedisURL = redisURLFlag
	}
	if databaseURLFlag != "" {
		env.DatabaseURL = databaseURLFlag
	}
	if instanceFlag != "" {
		env.InstanceName = instanceFlag
	}
	if configPathFlag != "" {
		env.ConfigPath = configPathFlag
	}

	if err := env.Validate(); err != nil {
		return nil, printer.Error("invalid connection flags", err.Error(), nil)
	}
	return env, nil
}

// connect opens the blackboard described by the environment and flags.
func connect(ctx context.Context) (*council, error) {
	env, err := loadEnv()
	if err != nil {
		return nil, err
	}

	redisOpts, err := env.RedisOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	bus, err := blackboard.NewClient(redisOpts, env.InstanceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}

	if err := bus.Ping(ctx); err != nil {
		bus.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", env.RedisURL),
			map[string]string{"Instance": env.InstanceName},
			[]string{
				"Start Redis locally:\n  docker run -d -p 6379:6379 redis:7-alpine",
				"Point the CLI at another server:\n  council --redis-url redis://host:6379/0 ...",
			},
		)
	}

	c := &council{env: env, bus: bus, store: bus}

	if env.DatabaseURL != "" {
		store, err := pgstore.Open(ctx, env.DatabaseURL, env.InstanceName)
		if err != nil {
			bus.Close()
			return nil, printer.Error(
				"Postgres connection failed",
				err.Error(),
				[]string{"Check DATABASE_URL or drop --database-url to use Redis for storage"},
			)
		}
		c.store = store
	}

	return c, nil
}

// Close releases the store and the bus.
func (c *council) Close() {
	if c.store != blackboard.Store(c.bus) {
		c.store.Close()
	}
	c.bus.Close()
}

// resolveSession expands a short session id, rendering lookup failures.
func (c *council) resolveSession(ctx context.Context, shortID string) (string, error) {
	id, err := resolver.ResolveSessionID(ctx, c.store, shortID)
	if err == nil {
		return id, nil
	}

	var ambiguous *resolver.AmbiguousError
	switch {
	case resolver.IsNotFoundError(err):
		return "", printer.Error(
			fmt.Sprintf("session '%s' not found", shortID),
			fmt.Sprintf("No session of instance '%s' matches that id.", c.env.InstanceName),
			[]string{"List sessions:\n  council session list"},
		)
	case errors.As(err, &ambiguous):
		return "", printer.Error(
			fmt.Sprintf("ambiguous session id '%s'", shortID),
			ambiguous.Describe(),
			[]string{"Use a longer prefix to identify the session."},
		)
	default:
		return "", printer.Error("invalid session id", err.Error(), nil)
	}
}

// councilConfig loads council.yml. A missing file is not an error: the CLI
// then runs with default engine settings.
func (c *council) councilConfig() (*config.CouncilConfig, error) {
	cfg, err := config.Load(c.env.ConfigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, printer.Error(
			"invalid council configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s or point --config at another file", c.env.ConfigPath)},
		)
	}
	return cfg, nil
}

// engine builds an orchestrator whose events are published on the bus, so
// watchers in other processes follow discussions run by this CLI.
func (c *council) engine(cfg *config.CouncilConfig) *orchestrator.Engine {
	opts := orchestrator.DefaultOptions()
	opts.InstanceName = c.env.InstanceName
	if cfg != nil {
		opts = cfg.EngineOptions(c.env.InstanceName)
	}

	factory := provider.NewFactory(c.env.Credentials(), c.env.MockMode())
	return orchestrator.NewEngine(c.store, factory, broadcast.NewPublisher(c.bus), c.bus, opts)
}

// sessionSource follows sessions held in the store over events carried by the bus.
type sessionSource struct {
	*council
}

func (s sessionSource) LoadSession(ctx context.Context, sessionID string) (*blackboard.Session, error) {
	return s.store.LoadSession(ctx, sessionID)
}

func (s sessionSource) SubscribeSessionEvents(ctx context.Context, sessionID string) (*blackboard.Subscription[blackboard.Event], error) {
	return s.bus.SubscribeSessionEvents(ctx, sessionID)
}
