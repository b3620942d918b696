package lightcast

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/tap-lightcast/pkg/auth"
	"github.com/Sternrassler/tap-lightcast/pkg/cache"
	"github.com/Sternrassler/tap-lightcast/pkg/client"
	"github.com/Sternrassler/tap-lightcast/pkg/config"
	"github.com/Sternrassler/tap-lightcast/pkg/singer"
	"github.com/Sternrassler/tap-lightcast/pkg/tap"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Options configure a Tap.
type Options struct {
	Config *config.Config

	// Output receives the Singer messages.
	Output io.Writer

	// Catalog selects streams; nil selects all.
	Catalog *singer.Catalog

	// State is the state of the previous run; nil means none.
	State *singer.State
}

// Tap is a configured Lightcast extraction.
type Tap struct {
	runner *tap.Runner
	client *client.Client
	redis  *redis.Client
}

// New wires authenticator, client, optional cache and runner. No request is
// made except a Redis ping when a cache is configured.
func New(ctx context.Context, opts Options) (*Tap, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Output == nil {
		return nil, fmt.Errorf("output is required")
	}

	authenticator, err := auth.New(auth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.AuthURL,
		Scopes:       []string{Scope},
	})
	if err != nil {
		return nil, fmt.Errorf("create authenticator: %w", err)
	}

	t := &Tap{}

	clientCfg := client.DefaultConfig(authenticator, cfg.UserAgent)
	clientCfg.BaseURL = cfg.APIURL
	clientCfg.MaxAttempts = cfg.MaxAttempts
	if cfg.RedisURL != "" {
		t.redis, clientCfg.Cache = connectCache(ctx, cfg)
	}

	t.client, err = client.New(clientCfg)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	t.runner, err = tap.NewRunner(t.client, Streams(cfg.RecordLimit()), tap.Options{
		Writer:          singer.NewWriter(opts.Output),
		Catalog:         opts.Catalog,
		State:           opts.State,
		ValidateRecords: cfg.ValidateRecords,
	})
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("create runner: %w", err)
	}

	return t, nil
}

// connectCache returns a cache manager, or nils when Redis is unreachable.
// The cache only saves requests, so a missing Redis is not fatal.
func connectCache(ctx context.Context, cfg *config.Config) (*redis.Client, *cache.Manager) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid redis_url - response cache disabled")
		return nil, nil
	}
	rdb := redis.NewClient(redisOpts)

	mgr := cache.NewManager(rdb, cache.Options{VersionedTTL: cfg.CacheTTL.Std()})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mgr.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", redisOpts.Addr).Msg("Redis unreachable - response cache disabled")
		rdb.Close()
		return nil, nil
	}

	log.Info().Str("addr", redisOpts.Addr).Dur("versioned_ttl", cfg.CacheTTL.Std()).Msg("Response cache enabled")
	return rdb, mgr
}

// Sync runs the extraction.
func (t *Tap) Sync(ctx context.Context) (tap.Summary, error) {
	return t.runner.Sync(ctx)
}

// Discover returns the catalog of the three streams.
func (t *Tap) Discover() *singer.Catalog {
	return t.runner.Discover()
}

// State returns the bookmarks after Sync.
func (t *Tap) State() *singer.State {
	return t.runner.State()
}

// Close releases connections.
func (t *Tap) Close() error {
	if t.client != nil {
		t.client.Close()
	}
	if t.redis != nil {
		return t.redis.Close()
	}
	return nil
}
