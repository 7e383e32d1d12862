package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rajchodisetti/marketcore/internal/config"
	"github.com/Rajchodisetti/marketcore/internal/marketdata"
	"github.com/Rajchodisetti/marketcore/internal/observ"
	"github.com/Rajchodisetti/marketcore/internal/server"
	"github.com/Rajchodisetti/marketcore/internal/upstream"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "config path (defaults plus environment when empty)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		observ.Error("config_load_failed", err, map[string]any{"path": cfgPath})
		os.Exit(1)
	}
	if err := observ.SetLevel(cfg.Log.Level); err != nil {
		observ.Warn("log_level_invalid", map[string]any{"level": cfg.Log.Level, "error": err.Error()})
	}

	src, err := upstream.NewFromConfig(cfg.Provider, cfg.Universe.Names())
	if err != nil {
		observ.Error("upstream_init_failed", err, map[string]any{"provider": cfg.Provider.Name})
		os.Exit(1)
	}

	svc, err := marketdata.New(cfg, src)
	if err != nil {
		observ.Error("service_init_failed", err, nil)
		os.Exit(1)
	}
	svc.Start()

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server.New(svc, observ.Logger()),
		ReadTimeout:  config.Ms(cfg.Server.ReadTimeoutMs),
		WriteTimeout: config.Ms(cfg.Server.WriteTimeoutMs),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		observ.Log("server_listening", map[string]any{
			"addr":     srv.Addr,
			"provider": src.Name(),
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			observ.Error("server_failed", err, nil)
		}
	case <-ctx.Done():
		observ.Log("server_shutdown", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			observ.Error("server_shutdown_failed", err, nil)
		}
	}
	svc.Close()
}
