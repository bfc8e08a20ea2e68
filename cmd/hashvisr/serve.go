package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/metrics"
	"github.com/loykin/hashvisr/internal/server"
	"github.com/loykin/hashvisr/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// shutdownTimeout bounds the donation loop's final push plus every child's stop grace.
const shutdownTimeout = 60 * time.Second

func runServe(parent context.Context, path string, sf *ServeFlags) error {
	if path == "" {
		return errors.New("config file required for serve: use --config=hashvisr.toml or pass it as an argument")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if sf.Daemonize {
		return daemonize(sf.PidFile, sf.LogFile)
	}
	if sf.PidFile != "" {
		if err := writePidFile(sf.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = removePidFile(sf.PidFile) }()
	}

	log, closer := cfg.Log.Setup()
	defer func() { _ = closer.Close() }()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "error", err)
		}
	}

	sup, err := supervisor.New(cfg, supervisor.Options{Logger: log})
	if err != nil {
		return err
	}
	config.Watch(path, sup.Runtime())

	var srv *http.Server
	if cfg.Server.Enabled {
		srv, err = server.NewServer(cfg.Server, cfg.Metrics.Enabled, sup)
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sup.Run(ctx)
	}()
	log.Info("hashvisr started", "config", path)

	<-ctx.Done()
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "error", err)
		}
	}
	err = sup.Shutdown(sctx)
	<-done
	return err
}
