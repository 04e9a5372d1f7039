package app

import (
	"context"
	"fmt"

	"example/veritas-api/app/config"
	"example/veritas-api/app/store"
	"example/veritas-api/events"
	"example/veritas-api/inference"

	"github.com/rs/zerolog/log"
)

// OpenStore connects to the configured database and applies the schema.
func OpenStore(ctx context.Context, cfg config.DBConfig) (*store.Store, error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// Bootstrap loads configuration and connects every dependency. The returned
// cleanup closes them in reverse order.
func Bootstrap(ctx context.Context) (*Server, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	InitLogging(cfg.Logs)

	st, err := OpenStore(ctx, cfg.DB)
	if err != nil {
		return nil, nil, err
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Info().Msg("redis not available, rate limiting and result cache disabled")
	}
	var cache *inference.ResultCache
	if cfg.Cache.Enabled {
		cache = inference.NewResultCache(rdb, cfg.Cache.TTL, cfg.Cache.Prefix)
	}

	pub, err := events.NewPublisher(ctx, cfg.Events)
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("events publisher: %w", err)
	}

	InitStripe(cfg.Stripe.SecretKey)

	client := inference.New(cfg.Inference.BaseURL,
		inference.WithAPIKey(cfg.Inference.APIKey),
		inference.WithTimeout(cfg.Inference.Timeout),
	)

	srv := NewServer(Deps{
		Config:    cfg,
		Store:     st,
		Inference: client,
		Cache:     cache,
		Events:    pub,
		Redis:     rdb,
	})

	cleanup := func() {
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Msg("close events publisher")
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}
	return srv, cleanup, nil
}

// MustBootstrap is Bootstrap for process entrypoints; it exits on failure.
func MustBootstrap(ctx context.Context) (*Server, func()) {
	srv, cleanup, err := Bootstrap(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	return srv, cleanup
}

// Config exposes the loaded configuration to entrypoints.
func (s *Server) Config() *config.Config {
	return s.cfg
}
