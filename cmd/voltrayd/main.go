package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/voltray/voltray/internal/config"
	"github.com/voltray/voltray/internal/host/audio"
	"github.com/voltray/voltray/internal/host/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.LoadDaemon()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller := audio.NewController(logger, cfg.Step)
	defer controller.Close()

	srv := server.New(logger, controller)
	go srv.Run(ctx)
	go srv.Watch(ctx, cfg.PollInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.Handler())

	httpServer := &http.Server{
		Addr:        cfg.Listen,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("voltrayd listening", zap.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}
