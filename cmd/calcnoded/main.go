// SPDX-License-Identifier: MIT

// Command calcnoded joins a Cyoda calculation-node group and answers
// calculation events over the bidirectional CloudEvents stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cyoda-platform/calcnode/internal/auth"
	"github.com/cyoda-platform/calcnode/internal/config"
	xlog "github.com/cyoda-platform/calcnode/internal/log"
	"github.com/cyoda-platform/calcnode/internal/processor"
	"github.com/cyoda-platform/calcnode/internal/stream"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xlog.Configure(xlog.Config{
		Service: "calcnode",
		Version: version,
	})
	logger := xlog.Derive(func(c *zerolog.Context) {
		*c = c.Str(xlog.FieldComponent, "daemon").Str("commit", commit)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	authority := auth.NewAuthority(cfg.APIURL, auth.Credentials{
		Username: cfg.APIKey,
		Password: cfg.APISecret,
	})

	// Calculation handlers are registered here by the embedding deployment;
	// an empty registry still answers every request per protocol.
	registry := processor.NewRegistry()

	client := stream.New(stream.Config{
		Address:        cfg.GRPCAddress,
		Owner:          cfg.Owner,
		Source:         cfg.Source,
		Tags:           []string{cfg.ProcessorTag},
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
		Insecure:       cfg.GRPCInsecure,
	}, authority, registry)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !client.Connected() {
			http.Error(w, "stream not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().
		Str(xlog.FieldAddress, cfg.GRPCAddress).
		Str("listen", cfg.ListenAddr).
		Str(xlog.FieldOwner, cfg.Owner).
		Msg("starting calculation node")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.Run(gctx)
		// A clean stream close ends the session for good; take the rest of
		// the daemon down with it.
		stop()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
	logger.Info().Msg("shutdown complete")
}
