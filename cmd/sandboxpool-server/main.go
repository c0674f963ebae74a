// Package main is the entry point for the sandbox pool server.
//
// sandboxpool-server owns a bounded pool of Docker-backed sandboxes and
// exposes a small ops surface (stats, health, sandbox listing, a live
// event feed) for operator tooling. The pool itself is consumed
// in-process via pkg/sandbox by the out-of-scope agent layer, not over
// this HTTP surface.
//
// Usage:
//
//	sandboxpool-server [flags]
//
// Flags:
//
//	-port string   HTTP server port (default: 8080)
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dataanalyst/sandboxpool/internal/containerdriver/docker"
	"github.com/dataanalyst/sandboxpool/internal/opsapi"
	"github.com/dataanalyst/sandboxpool/internal/sbconfig"
	"github.com/dataanalyst/sandboxpool/internal/sandboxpool"
)

func main() {
	port := flag.String("port", "8080", "HTTP server port")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("SANDBOX_ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}
	level, err := zerolog.ParseLevel(sbconfig.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("sandboxpool-server starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	driver, err := docker.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct docker driver")
	}
	defer driver.Close()

	ctxTimeout, cancelTimeout := context.WithTimeout(ctx, 5*time.Second)
	if err := driver.Ping(ctxTimeout); err != nil {
		log.Fatal().Err(err).Msg("docker engine health check failed")
	}
	cancelTimeout()

	cfg := sbconfig.Load(nil)
	mgr := sandboxpool.NewManager(cfg, driver)
	if err := mgr.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize sandbox pool")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	apiKey := os.Getenv("SANDBOX_API_KEY")
	h := opsapi.NewHandler(mgr, apiKey)
	h.RegisterRoutes(e)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", *port).Msg("ops surface listening")
		serverErr <- e.Start(":" + *port)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := mgr.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("sandbox pool shutdown reported an error")
		}
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("ops server forced to shutdown")
		}
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("ops server startup failed")
	}
}
