package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/dashboard"
	"github.com/wolfeidau/opsengine/internal/logger"
	"github.com/wolfeidau/opsengine/internal/server"
	"github.com/wolfeidau/opsengine/internal/store"
	memorystore "github.com/wolfeidau/opsengine/internal/store/memory"
	postgresstore "github.com/wolfeidau/opsengine/internal/store/postgres"
	"github.com/wolfeidau/opsengine/internal/telemetry"
	"github.com/wolfeidau/opsengine/internal/util"
)

type ServerCmd struct {
	// Server configuration
	Listen          string        `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"OPSENGINE_LISTEN"`
	Cert            string        `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"OPSENGINE_TLS_CERT"`
	Key             string        `help:"path to TLS key file" default:"" env:"OPSENGINE_TLS_KEY"`
	ShutdownTimeout time.Duration `help:"grace period for in-flight requests on shutdown" default:"15s" env:"OPSENGINE_SHUTDOWN_TIMEOUT"`

	// CORS and websocket origins
	CORSOrigins []string `help:"allowed origins for API and websocket requests, empty allows any" env:"OPSENGINE_CORS_ORIGINS"`

	MaxBodyBytes          int64         `help:"maximum request body size" default:"1048576" env:"OPSENGINE_MAX_BODY_BYTES"`
	WebsocketWriteTimeout time.Duration `help:"deadline for writing one push frame" default:"10s" env:"OPSENGINE_WS_WRITE_TIMEOUT"`
	SubscriberQueue       int           `help:"queued frames per push subscriber before frames are dropped" default:"32" env:"OPSENGINE_SUBSCRIBER_QUEUE"`

	RolesFile            string `help:"YAML role catalog seeded on startup, defaults to the built-in catalog" type:"existingfile" env:"OPSENGINE_ROLES_FILE"`
	Timezone             string `help:"IANA time zone that decides day boundaries" default:"UTC" env:"OPSENGINE_TIMEZONE"`
	NotificationPageSize int    `help:"maximum notifications returned per list" default:"50" env:"OPSENGINE_NOTIFICATION_PAGE_SIZE"`

	// Operational modes
	Tracing          bool    `help:"enable tracing and metrics export" default:"false" env:"OPSENGINE_TRACING"`
	TraceSampleRatio float64 `help:"fraction of traces exported" default:"1" env:"OPSENGINE_TRACE_SAMPLE_RATIO"`

	// Store configuration
	StoreType string         `help:"store type (memory or postgres)" default:"memory" env:"OPSENGINE_STORE_TYPE" enum:"memory,postgres"`
	Postgres  PostgresFlags  `embed:"" prefix:"postgres-"`
	Redis     RedisFlags     `embed:"" prefix:"redis-"`
	Auth      AuthFlags      `embed:"" prefix:"auth-"`
	Dashboard DashboardFlags `embed:"" prefix:"dashboard-"`
}

type PostgresFlags struct {
	// Connection Configuration
	ConnString      string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`
	ConnectAttempts uint   `help:"attempts to reach the database before giving up" default:"5" env:"OPSENGINE_POSTGRES_CONNECT_ATTEMPTS"`

	// Connection Pool Configuration
	MaxConns        int           `help:"maximum number of connections in pool" default:"20"`
	MinConns        int           `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"OPSENGINE_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresFlags) poolConfig() (*postgresstore.PoolConfig, error) {
	if p.ConnString == "" {
		return nil, errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return &postgresstore.PoolConfig{
		ConnString:      p.ConnString,
		MaxConns:        util.AsInt32(p.MaxConns),
		MinConns:        util.AsInt32(p.MinConns),
		MaxConnLifetime: p.MaxConnLifetime,
		MaxConnIdleTime: p.MaxConnIdleTime,
		AutoMigrate:     p.AutoMigrate,
	}, nil
}

// RedisFlags enables the cross-instance push relay when addresses are set.
type RedisFlags struct {
	Addrs    []string `help:"Redis addresses, enables the cross-instance push relay" env:"OPSENGINE_REDIS_ADDRS"`
	Password string   `help:"Redis password" env:"OPSENGINE_REDIS_PASSWORD"`
	DB       int      `help:"Redis database" default:"0" env:"OPSENGINE_REDIS_DB"`
	Channel  string   `help:"pub/sub channel shared by all instances" default:"opsengine:broadcast" env:"OPSENGINE_REDIS_CHANNEL"`
}

type AuthFlags struct {
	Secret        string        `help:"HS256 secret shared with the identity provider, at least 32 bytes" env:"OPSENGINE_AUTH_SECRET"`
	PublicKeyFile string        `help:"PEM encoded ES256 public key of the identity provider" type:"existingfile" env:"OPSENGINE_AUTH_PUBLIC_KEY_FILE"`
	Issuer        string        `help:"required token issuer" env:"OPSENGINE_AUTH_ISSUER"`
	Audience      string        `help:"required token audience" env:"OPSENGINE_AUTH_AUDIENCE"`
	Leeway        time.Duration `help:"tolerated clock skew" default:"30s" env:"OPSENGINE_AUTH_LEEWAY"`
	CacheTTL      time.Duration `help:"how long a resolved actor is reused" default:"1m" env:"OPSENGINE_AUTH_CACHE_TTL"`
	RoleRefresh   time.Duration `help:"interval for reloading the role catalog" default:"1m" env:"OPSENGINE_AUTH_ROLE_REFRESH"`
}

func (a *AuthFlags) verifierConfig() (auth.VerifierConfig, error) {
	cfg := auth.VerifierConfig{
		Secret:   []byte(a.Secret),
		Issuer:   a.Issuer,
		Audience: a.Audience,
		Leeway:   a.Leeway,
	}
	if a.PublicKeyFile != "" {
		data, err := os.ReadFile(a.PublicKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("failed to read public key: %w", err)
		}
		cfg.PublicKeyPEM = string(data)
	}
	if len(cfg.Secret) == 0 && cfg.PublicKeyPEM == "" {
		return cfg, errors.New("token verification needs --auth-secret or --auth-public-key-file")
	}
	return cfg, nil
}

type DashboardFlags struct {
	Timeout   time.Duration `help:"deadline for computing a dashboard summary" default:"5s" env:"OPSENGINE_DASHBOARD_TIMEOUT"`
	TrendDays int           `help:"days covered by the stock movement trend" default:"7" env:"OPSENGINE_DASHBOARD_TREND_DAYS"`
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx = log.WithContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "opsengine-server",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load time zone %q: %w", c.Timezone, err)
	}

	verifierCfg, err := c.Auth.verifierConfig()
	if err != nil {
		return err
	}

	stores, err := c.openStores(ctx, log)
	if err != nil {
		return err
	}
	if stores.Close != nil {
		defer stores.Close()
	}

	roles := auth.DefaultRoles()
	if c.RolesFile != "" {
		if roles, err = auth.LoadRoles(c.RolesFile); err != nil {
			return err
		}
	}
	if err := auth.SeedRoles(ctx, stores.Roles, roles); err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}

	hub := broadcast.NewHub(broadcast.HubConfig{QueueSize: c.SubscriberQueue})
	if err := hub.Start(); err != nil {
		return err
	}
	defer func() {
		if err := hub.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop broadcast hub")
		}
	}()

	var publisher broadcast.Publisher = hub
	if len(c.Redis.Addrs) > 0 {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Redis.Addrs,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		defer client.Close()

		relay := broadcast.NewRedisRelay(client, hub, c.Redis.Channel)
		if err := relay.Start(ctx); err != nil {
			return fmt.Errorf("failed to start redis relay: %w", err)
		}
		defer relay.Stop()

		publisher = relay
		log.Info().Strs("addrs", c.Redis.Addrs).Str("channel", c.Redis.Channel).Msg("Using Redis push relay")
	}

	svc, err := server.NewServices(stores, hub, publisher, server.ServicesConfig{
		Verifier: verifierCfg,
		Resolver: auth.ResolverConfig{
			CacheTTL:        c.Auth.CacheTTL,
			RefreshInterval: c.Auth.RoleRefresh,
		},
		Dashboard: dashboard.Config{
			Timeout:   c.Dashboard.Timeout,
			TrendDays: c.Dashboard.TrendDays,
		},
		NotificationPageSize: c.NotificationPageSize,
		Location:             loc,
	})
	if err != nil {
		return fmt.Errorf("failed to create services: %w", err)
	}

	if err := svc.Resolver.Start(ctx); err != nil {
		return fmt.Errorf("failed to start role resolver: %w", err)
	}
	defer svc.Resolver.Stop()

	handler := server.NewServer(svc, server.Config{
		AllowedOrigins:        c.CORSOrigins,
		MaxBodyBytes:          c.MaxBodyBytes,
		WebsocketWriteTimeout: c.WebsocketWriteTimeout,
	}).Handler(log)

	srv := configureHTTPServer(c.Listen, handler)
	srv.BaseContext = func(_ net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (c *ServerCmd) openStores(ctx context.Context, log zerolog.Logger) (*store.Stores, error) {
	if c.StoreType != "postgres" {
		log.Info().Msg("Using in-memory stores")
		return memorystore.NewStores(), nil
	}

	poolCfg, err := c.Postgres.poolConfig()
	if err != nil {
		return nil, err
	}

	// the database often starts alongside the server, retry until it answers
	stores, err := backoff.Retry(ctx,
		func() (*store.Stores, error) {
			return postgresstore.Open(ctx, poolCfg)
		},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.Postgres.ConnectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("PostgreSQL not ready")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres stores: %w", err)
	}

	log.Info().Bool("auto_migrate", poolCfg.AutoMigrate).Msg("Using PostgreSQL stores with shared connection pool")
	return stores, nil
}
