package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quckchat/call-service/internal/auth"
	"github.com/quckchat/call-service/internal/calls"
	"github.com/quckchat/call-service/internal/config"
	"github.com/quckchat/call-service/internal/history"
	"github.com/quckchat/call-service/internal/httpapi"
	"github.com/quckchat/call-service/internal/reconnect"
	"github.com/quckchat/call-service/internal/session"
	"github.com/quckchat/call-service/internal/signaling"
	"github.com/quckchat/call-service/pkg/logger"
	"github.com/quckchat/call-service/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	historySvc := history.NewService(history.NewPostgresRepo(db))
	limiter := session.NewRedisLimiter(rdb, cfg.Call.ActiveCallTTL)

	// The record sink runs off the session actors; persistence failures are
	// logged, never allowed to block call teardown.
	sink := func(ctx context.Context, rec calls.CallRecord) {
		if err := historySvc.Record(ctx, rec); err != nil {
			log.Error("call record write failed", "call_id", rec.ID, "err", err)
		}
	}

	supervisor := reconnect.NewSupervisor(reconnect.Backoff{
		Base:        cfg.Call.ReconnectBase,
		MaxAttempts: cfg.Call.ReconnectMaxAttempts,
		Budget:      cfg.Call.ReconnectBudget,
	}, log)

	// Degraded mode if Redis pub/sub cannot be joined: users on this node can
	// still reach each other over the in-process hub.
	fallbackHub := signaling.NewMemoryHub()
	presence := signaling.NewRedisPresence(rdb)

	pool := session.NewPool(func(selfID string) *session.Coordinator {
		var transport signaling.Transport
		if rt, err := signaling.NewRedisTransport(rootCtx, rdb, selfID, log); err != nil {
			log.Error("signaling transport init failed", "user_id", selfID, "err", err)
			transport = fallbackHub.Endpoint(selfID)
		} else {
			transport = rt
		}
		return session.NewCoordinator(transport, session.CoordinatorConfig{
			SelfID: selfID,
			Session: session.Config{
				RingTimeout:           cfg.Call.RingTimeout,
				NegotiationTimeout:    cfg.Call.NegotiationTimeout,
				HuddleMaxParticipants: cfg.Call.HuddleMaxParticipants,
			},
			Sink:    sink,
			Limiter: limiter,
			Logger:  log,
		})
	})
	defer pool.Close()

	// Resumption probes check that the signaling fabric is reachable again
	// and read the fabric's own presence set for the session. Anyone who
	// departed during the outage is absent from it, so the resuming session
	// prunes them instead of trusting its pre-outage membership view.
	probe := func(sess *session.Session) reconnect.Prober {
		return reconnect.ProberFunc(func(ctx context.Context) ([]string, error) {
			return presence.Present(ctx, sess.ID())
		})
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	h := httpapi.Handlers{
		Auth:      authManager,
		Sessions:  pool,
		History:   historySvc,
		Reconnect: supervisor,
		Probe:     probe,
	}
	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
