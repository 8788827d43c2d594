package main

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

	"github.com/DoyleJ11/fake-tasker-backend/internal/client"
	"github.com/DoyleJ11/fake-tasker-backend/internal/config"
	"github.com/DoyleJ11/fake-tasker-backend/internal/httpapi"
	"github.com/DoyleJ11/fake-tasker-backend/internal/hub"
	"github.com/DoyleJ11/fake-tasker-backend/internal/logger"
	"github.com/DoyleJ11/fake-tasker-backend/internal/presence"
	"github.com/DoyleJ11/fake-tasker-backend/internal/store"
	"github.com/DoyleJ11/fake-tasker-backend/internal/ws"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := logger.InitLogger(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zap.L().Sync()

	if err := run(cfg); err != nil {
		zap.L().Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks, err := config.LoadTaskPresets(cfg.TasksFile)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var st store.Store
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := pg.Close(); err != nil {
				zap.L().Warn("close postgres", zap.Error(err))
			}
		}()
		g.Go(func() error { return pg.Listen(ctx) })
		st = pg
	default:
		h := hub.NewHub(ctx)
		defer h.Shutdown()
		st = h
	}

	clk := clock.New()
	tracker := presence.New(st, clk, cfg.PresenceGrace, cfg.WriteTimeout)

	handler := httpapi.SetupRoutes(st, tracker,
		httpapi.Defaults{
			Settings:  cfg.Settings(),
			Tasks:     tasks,
			PublicURL: cfg.PublicURL,
		},
		ws.Options{
			OriginPatterns: cfg.AllowedOrigins,
			Client: client.Options{
				Clock:            clk,
				ResultDisplay:    cfg.ResultDisplay,
				SabotageCooldown: cfg.SabotageCooldown,
				Countdown:        cfg.Countdown,
				WriteTimeout:     cfg.WriteTimeout,
			},
		},
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		zap.L().Info("listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		zap.L().Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
