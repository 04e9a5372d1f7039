// Package app wires the gateway's HTTP handlers and the services behind them.
package app

import (
	"time"

	"example/veritas-api/app/config"
	"example/veritas-api/app/store"
	"example/veritas-api/auth"
	"example/veritas-api/events"
	"example/veritas-api/inference"

	"github.com/redis/go-redis/v9"
)

// Deps are the collaborators a Server needs. Redis, Cache and Verifier may be
// nil; Events defaults to a no-op publisher.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Inference *inference.Client
	Cache     *inference.ResultCache
	Events    events.Publisher
	Redis     *redis.Client
	Verifier  *auth.Verifier
	Now       func() time.Time
}

type Server struct {
	cfg          *config.Config
	store        *store.Store
	inference    *inference.Client
	cache        *inference.ResultCache
	redis        *redis.Client
	verifier     *auth.Verifier
	entitlements *Entitlements
	settler      *Settler
	now          func() time.Time
}

func NewServer(d Deps) *Server {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	pub := d.Events
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Server{
		cfg:          d.Config,
		store:        d.Store,
		inference:    d.Inference,
		cache:        d.Cache,
		redis:        d.Redis,
		verifier:     d.Verifier,
		entitlements: NewEntitlements(d.Store, d.Config.Limits, d.Config.UnlimitedAccountIDs, now),
		settler:      NewSettler(d.Store, pub, d.Cache, d.Config.Inference.SettleTimeout, now),
		now:          now,
	}
}
