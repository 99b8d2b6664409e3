package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/api"
	"github.com/matheus3301/relay/internal/auth"
	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/gateway"
	"github.com/matheus3301/relay/internal/instance"
	"github.com/matheus3301/relay/internal/lock"
	"github.com/matheus3301/relay/internal/logging"
	"github.com/matheus3301/relay/internal/metrics"
	"github.com/matheus3301/relay/internal/mirror"
	"github.com/matheus3301/relay/internal/presence"
	"github.com/matheus3301/relay/internal/registry"
	"github.com/matheus3301/relay/internal/router"
	"github.com/matheus3301/relay/internal/session"
	"github.com/matheus3301/relay/internal/status"
	"github.com/matheus3301/relay/internal/store"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance   string
	ConfigPath string // empty = instance.ConfigPath()
	Listen     string // overrides [server] listen when set
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRegistry,
			provideMetrics,
			provideDelivery,
			provideResolver,
			provideSessionDeps,
			provideGateway,
			provideMirror,
			provideControlService,
			NewHTTPServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if p.Listen != "" {
		cfg.Server.Listen = p.Listen
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(instance.LogPath(p.Instance), p.Instance, cfg.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

// provideLock releases the lock on stop, after every hook registered later.
func provideLock(lc fx.Lifecycle, p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(instance.LockPath(p.Instance))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := l.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			return nil
		},
	})
	return l, nil
}

// provideStore depends on the lock so that only the lock holder opens the database.
func provideStore(lc fx.Lifecycle, p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = instance.DBPath(p.Instance)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return db.Close() },
	})
	return db, nil
}

func provideRegistry() *registry.Registry {
	return registry.New()
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

// provideDelivery builds the router and presence broadcaster together; each
// needs the other.
func provideDelivery(cfg *config.Config, reg *registry.Registry, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) (*router.Router, *presence.Presence) {
	rt := router.New(reg, db, b, logger.Named("router"), router.Options{
		WriteTimeout: cfg.Server.WriteTimeout,
		StoreTimeout: cfg.Store.Timeout,
		Metrics:      m,
	})
	pr := presence.New(reg, rt, db, b, logger.Named("presence"), m, cfg.Store.Timeout)
	rt.SetOfflineHandler(pr.UserOffline)
	return rt, pr
}

func provideResolver(cfg *config.Config, db *store.DB, logger *zap.Logger) (*auth.Resolver, error) {
	ac := cfg.Auth
	if ac.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		ac.Secret = secret
		logger.Warn("auth secret not configured, using an ephemeral one; tokens will not survive a restart")
	}
	return auth.New(ac, db)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func provideSessionDeps(cfg *config.Config, resolver *auth.Resolver, reg *registry.Registry, rt *router.Router, pr *presence.Presence, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *session.Deps {
	return &session.Deps{
		Resolver:   resolver,
		Registry:   reg,
		Router:     rt,
		Presence:   pr,
		Bus:        b,
		Logger:     logger.Named("session"),
		Metrics:    m,
		FrameRate:  cfg.Server.FrameRate,
		FrameBurst: cfg.Server.FrameBurst,
	}
}

func provideGateway(cfg *config.Config, machine *status.Machine, sd *session.Deps, resolver *auth.Resolver, db *store.DB, rt *router.Router, reg *registry.Registry, m *metrics.Metrics, logger *zap.Logger) *gateway.Server {
	return gateway.New(gateway.Deps{
		Sessions: sd,
		Auth:     resolver,
		Store:    db,
		Router:   rt,
		Registry: reg,
		Metrics:  m,
		Logger:   logger,
	}, gateway.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StoreTimeout:   cfg.Store.Timeout,
		Accepting:      machine.Accepting,
	})
}

// Mirror is the optional Redis presence mirror. Both fields are nil when
// [redis] addr is empty or the server could not be reached at startup.
type Mirror struct {
	*mirror.Mirror
	kv *mirror.RedisKV

	Wanted bool
}

func provideMirror(p Params, cfg *config.Config, b *bus.Bus, reg *registry.Registry, logger *zap.Logger) *Mirror {
	rc := cfg.Redis
	if rc.Addr == "" {
		return &Mirror{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	kv, err := mirror.NewRedisKV(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		logger.Warn("redis unreachable, presence mirror disabled", zap.String("addr", rc.Addr), zap.Error(err))
		return &Mirror{Wanted: true}
	}
	host, _ := os.Hostname()
	owner := host + "/" + p.Instance
	return &Mirror{
		Mirror: mirror.New(kv, b, reg.OnlineUsers, owner, rc.TTL, logger.Named("mirror")),
		kv:     kv,
		Wanted: true,
	}
}

func provideControlService(p Params, httpSrv *HTTPServer, m *status.Machine, reg *registry.Registry, db *store.DB, resolver *auth.Resolver, rt *router.Router, mm *Mirror, b *bus.Bus, logger *zap.Logger) *api.ControlService {
	d := api.Deps{
		Instance: p.Instance,
		Listen:   httpSrv.Addr,
		Machine:  m,
		Registry: reg,
		Store:    db,
		Tokens:   resolver,
		Router:   rt,
		Bus:      b,
		Logger:   logger,
	}
	if mm.Mirror != nil {
		d.Mirror = mm.Mirror
	}
	return api.NewControlService(d)
}

type lifecycleParams struct {
	fx.In

	Server  *Server
	HTTP    *HTTPServer
	Gateway *gateway.Server
	Mirror  *Mirror
	Machine *status.Machine
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := lp.HTTP.Start(); err != nil {
				_ = lp.Machine.Transition(status.Error)
				return err
			}

			if lp.Mirror.Mirror != nil {
				lp.Mirror.Start(context.Background())
			}

			next := status.Serving
			if lp.Mirror.Wanted && lp.Mirror.Mirror == nil {
				next = status.Degraded
			}
			if err := lp.Machine.Transition(next); err != nil {
				return err
			}
			lp.Server.SetServing(true)
			logger.Info("daemon ready", zap.String("status", string(next)), zap.String("listen", lp.HTTP.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = lp.Machine.Transition(status.Draining)
			lp.Server.SetServing(false)

			if err := lp.HTTP.Stop(ctx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}
			if err := lp.Gateway.Close(ctx); err != nil {
				logger.Warn("sessions did not drain", zap.Error(err))
			}
			if lp.Mirror.Mirror != nil {
				lp.Mirror.Stop()
				_ = lp.Mirror.kv.Close()
			}
			lp.Server.Stop(ctx)

			_ = lp.Machine.Transition(status.Stopped)
			logger.Info("daemon stopped")
			return nil
		},
	})
}
