package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/alexandrut83/minerstats/clock"
	"github.com/alexandrut83/minerstats/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "minerstatsd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, opts, err := loadConfig(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if opts.printConfig {
		return printConfig(os.Stdout, cfg)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	store := telemetry.NewStore(clk)
	follower := telemetry.NewFollower(cfg.LogFile, store, logger.Named("follower"))

	followerDone := make(chan struct{})
	go func() {
		defer close(followerDone)
		follower.Run(ctx)
	}()

	api := newServer(ctx.Done(), cfg, store, follower, logger.Named("http"), clk)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(api),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting minerstats",
			zap.String("listen", cfg.ListenAddr),
			zap.String("log_file", cfg.LogFile),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		<-followerDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", zap.Error(err))
	}
	<-followerDone

	logger.Info("stopped")
	return nil
}
