package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/emilixs/Aicouncil/internal/broadcast"
	"github.com/emilixs/Aicouncil/internal/config"
	"github.com/emilixs/Aicouncil/internal/orchestrator"
	"github.com/emilixs/Aicouncil/internal/pgstore"
	"github.com/emilixs/Aicouncil/internal/provider"
	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/samber/do/v2"
)

const connectTimeout = 15 * time.Second

// setupDI registers every service of the daemon. Services are built lazily on
// first Invoke.
func setupDI(env *config.Env) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, env)
	do.Provide(injector, provideCouncilConfig)
	do.Provide(injector, provideBus)
	do.Provide(injector, provideStore)
	do.Provide(injector, provideFactory)
	do.Provide(injector, provideEngine)
	do.Provide(injector, provideHub)

	return injector
}

// provideCouncilConfig loads council.yml. Without one the daemon runs with
// default engine settings and whatever experts are already stored.
func provideCouncilConfig(i do.Injector) (*config.CouncilConfig, error) {
	env := do.MustInvoke[*config.Env](i)
	cfg, err := config.Load(env.ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[Councild] WARN: %s not found, using default settings", env.ConfigPath)
		return &config.CouncilConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// provideBus connects the Redis blackboard. It always carries events and
// interventions, and holds state too unless Postgres is configured.
func provideBus(i do.Injector) (*blackboard.Client, error) {
	env := do.MustInvoke[*config.Env](i)

	redisOpts, err := env.RedisOptions()
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	bus, err := blackboard.NewClient(redisOpts, env.InstanceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := bus.Ping(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("redis not accessible: %w", err)
	}
	return bus, nil
}

func provideStore(i do.Injector) (blackboard.Store, error) {
	env := do.MustInvoke[*config.Env](i)
	if env.DatabaseURL == "" {
		return do.MustInvoke[*blackboard.Client](i), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	store, err := pgstore.Open(ctx, env.DatabaseURL, env.InstanceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	log.Printf("[Councild] Using Postgres for sessions and transcripts")
	return store, nil
}

func provideFactory(i do.Injector) (*provider.Factory, error) {
	env := do.MustInvoke[*config.Env](i)
	if env.MockMode() {
		log.Printf("[Councild] WARN: COUNCIL_MODE=mock, every expert is served by the mock provider")
	}
	return provider.NewFactory(env.Credentials(), env.MockMode()), nil
}

func provideEngine(i do.Injector) (*orchestrator.Engine, error) {
	env := do.MustInvoke[*config.Env](i)
	cfg := do.MustInvoke[*config.CouncilConfig](i)
	bus := do.MustInvoke[*blackboard.Client](i)
	store, err := do.Invoke[blackboard.Store](i)
	if err != nil {
		return nil, err
	}
	factory := do.MustInvoke[*provider.Factory](i)

	return orchestrator.NewEngine(store, factory, broadcast.NewPublisher(bus), bus, cfg.EngineOptions(env.InstanceName)), nil
}

func provideHub(i do.Injector) (*broadcast.Hub, error) {
	bus := do.MustInvoke[*blackboard.Client](i)
	return broadcast.NewHub(bus, broadcast.DefaultBufferSize), nil
}

// seedExperts stores the experts defined in council.yml, replacing stored
// experts with the same handle.
func seedExperts(ctx context.Context, store blackboard.Store, cfg *config.CouncilConfig) (int, error) {
	experts := cfg.BlackboardExperts()
	for _, e := range experts {
		if err := store.PutExpert(ctx, e); err != nil {
			return 0, fmt.Errorf("failed to store expert '%s': %w", e.ID, err)
		}
	}
	return len(experts), nil
}
