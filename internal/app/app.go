// Package app wires the order service together and runs its HTTP server.
package app

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/mojito-bar/internal/domain/event"
	"github.com/xenking/mojito-bar/internal/domain/inventory"
	"github.com/xenking/mojito-bar/internal/domain/order"
	"github.com/xenking/mojito-bar/internal/events"
	"github.com/xenking/mojito-bar/internal/handler"
	"github.com/xenking/mojito-bar/internal/realtime"
	"github.com/xenking/mojito-bar/pkg/health"
	"github.com/xenking/mojito-bar/pkg/httpmiddleware"
)

const serviceName = "mojito-bar"

// Telemetry provides the otel providers. *app.Telemetry of go-faster/sdk
// implements it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// App is a fully wired API server.
type App struct {
	cfg    *Config
	lg     *zap.Logger
	store  *storage
	rdb    *redis.Client // nil when notifications are disabled
	orders *order.Service
	stock  *inventory.Service
	hub    *realtime.Hub
	health *health.Health
	server *http.Server
}

// Run creates all dependencies, serves on cfg.Addr and shuts down gracefully
// when ctx is done. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	a, err := New(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return a.Serve(ctx, ln)
}

// New connects to storage and, when configured, Redis, and builds the HTTP
// server.
func New(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) (_ *App, rerr error) {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("notifications", cfg.RedisURL != ""),
	)
	a := &App{cfg: cfg, lg: lg}
	defer func() {
		if rerr != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	store, err := openStorage(ctx, lg, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	rdb, publisher, err := connectNotifications(ctx, lg, cfg.RedisURL, m.MeterProvider())
	if err != nil {
		return nil, err
	}
	a.rdb = rdb

	orders := order.NewService(store.products, store.orders, publisher,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithPublishTimeout(cfg.PublishTimeout),
	)
	a.orders = orders

	a.stock = inventory.NewService(store.inventory, publisher,
		inventory.WithTracerProvider(m.TracerProvider()),
		inventory.WithPublishTimeout(cfg.PublishTimeout),
	)

	sec, err := handler.NewSecurityHandler([]byte(cfg.APIKeyPepper), cfg.APIKeys)
	if err != nil {
		return nil, errors.Wrap(err, "create security handler")
	}
	if !sec.Enabled() {
		lg.Warn("No API keys configured, write routes are open")
	}

	a.hub, err = realtime.NewHub(realtime.HubConfig{
		SendBuffer:     cfg.WebSocket.SendBuffer,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		OriginPatterns: originHosts(cfg.CORS.Origins),
	}, m.MeterProvider())
	if err != nil {
		return nil, errors.Wrap(err, "create hub")
	}

	a.health = health.New()
	a.health.AddReadinessCheck(cfg.Storage.Driver, 5*time.Second, store.ping)
	if a.rdb != nil {
		a.health.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		})
	}
	a.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	a.health.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	write := []func(http.Handler) http.Handler{sec.Middleware}
	if a.rdb != nil {
		proxies, err := cfg.RateLimit.Proxies()
		if err != nil {
			return nil, err
		}
		limit := httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:            cfg.RateLimit.Max,
			Window:         cfg.RateLimit.Window,
			Prefix:         "mojito:ratelimit",
			TrustedProxies: proxies,
			KnownKey:       sec.Authenticate,
		}, a.rdb)
		write = append([]func(http.Handler) http.Handler{limit}, write...)
	}

	r := chi.NewRouter()
	r.Get("/livez", a.health.LiveEndpoint)
	r.Get("/readyz", a.health.ReadyEndpoint)
	r.Get("/ws", a.hub.ServeHTTP)
	handler.NewHandler(handler.HandlerConfig{}, store.products, orders, a.stock).Register(r, write...)

	routeFinder := httpmiddleware.MakeRouteFinder(r)
	a.server = &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins: cfg.CORS.Origins,
				MaxAge:  cfg.CORS.MaxAge,
			}),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}
	return a, nil
}

// connectNotifications returns the Redis client and order publisher. Both
// are nil when redisURL is empty or Redis cannot be reached: notifications
// must never keep the API from accepting orders.
func connectNotifications(
	ctx context.Context,
	lg *zap.Logger,
	redisURL string,
	mp metric.MeterProvider,
) (*redis.Client, event.Publisher, error) {
	if redisURL == "" {
		lg.Warn("Redis is not configured, notifications and live view are disabled")
		return nil, nil, nil
	}

	rdb, err := events.Connect(ctx, redisURL)
	if err != nil {
		lg.Warn("Redis is unreachable, notifications and live view are disabled",
			zap.Error(err),
		)
		return nil, nil, nil
	}

	pub, err := events.NewRedisPublisher(rdb, mp)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, errors.Wrap(err, "create publisher")
	}
	return rdb, pub, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Serve serves HTTP on ln and relays notifications to live-view clients until
// ctx is done, then drains and shuts the server down.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	lg := a.lg
	a.health.Start(ctx, 10*time.Second)
	defer a.health.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if a.rdb != nil {
		g.Go(func() error {
			a.relay(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.health.SetReady(true)
		lg.Info("Server listening", zap.Stringer("addr", ln.Addr()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", a.cfg.Graceful.ReadinessDelay))
		time.Sleep(a.cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", a.cfg.Graceful.ShutdownTimeout))
		// Hijacked WebSocket connections are not tracked by Shutdown.
		a.hub.Close()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		a.orders.Wait()
		a.stock.Wait()
		return nil
	})
	return g.Wait()
}

// relay feeds the hub from Redis, resubscribing after failures until ctx is
// done. It never affects the write path.
func (a *App) relay(ctx context.Context) {
	for {
		err := realtime.Relay(ctx, a.rdb, a.hub,
			order.ChannelOrderCreated,
			order.ChannelOrderStateChanged,
			inventory.ChannelUpdated,
		)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			a.lg.Error("Notification relay failed, retrying", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Close releases storage and Redis connections.
func (a *App) Close(ctx context.Context) {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.lg.Warn("Close redis", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.close(ctx); err != nil {
			a.lg.Warn("Close storage", zap.Error(err))
		}
	}
}

// originHosts converts CORS origins to the host patterns accepted by the
// WebSocket handshake.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, host, ok := strings.Cut(o, "://"); ok {
			o = host
		}
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}
