// Package health serves liveness and readiness over HTTP and the standard
// gRPC health protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tablebook/internal/pool"
	"tablebook/internal/store"
)

// Check is one readiness dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// StoreCheck pings a pooled store connection.
func StoreCheck(p *pool.Pool[store.Conn]) Check {
	return Check{Name: "store", Ping: func(ctx context.Context) error {
		return p.With(ctx, func(c store.Conn) error { return c.Ping(ctx) })
	}}
}

func RedisCheck(rdb *redis.Client) Check {
	return Check{Name: "redis", Ping: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

type Checker struct {
	checks  []Check
	timeout time.Duration
	logger  zerolog.Logger
}

func NewChecker(logger zerolog.Logger, checks ...Check) *Checker {
	return &Checker{
		checks:  checks,
		timeout: time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Ready runs every check and returns the first failure.
func (c *Checker) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	for _, ch := range c.checks {
		if err := ch.Ping(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", ch.Name, err)
		}
	}
	return nil
}

// Handler serves /healthz and /readyz.
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := c.Ready(r.Context()); err != nil {
			c.logger.Warn().Err(err).Msg("readiness check failed")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// Sync sets the overall gRPC serving status from Ready.
func (c *Checker) Sync(ctx context.Context, hs *grpchealth.Server) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := c.Ready(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
}

// ServeGRPC serves the gRPC health service on addr until ctx ends,
// refreshing the status every interval.
func (c *Checker) ServeGRPC(ctx context.Context, addr string, interval time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return c.serveGRPC(ctx, lis, interval)
}

func (c *Checker) serveGRPC(ctx context.Context, lis net.Listener, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	c.Sync(ctx, hs)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				srv.GracefulStop()
				return
			case <-ticker.C:
				c.Sync(ctx, hs)
			}
		}
	}()

	c.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
	if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Serve runs srv until ctx ends, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, name string, logger zerolog.Logger) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Str("addr", srv.Addr).Msgf("%s server listening", name)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msgf("%s server error", name)
	}
}
