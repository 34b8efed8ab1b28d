package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"devgate/internal/certs"
	"devgate/internal/config"
	"devgate/internal/metrics"
	"devgate/internal/ratelimit"
	"devgate/internal/reaper"
	"devgate/internal/router"
	"devgate/internal/server"
	"devgate/internal/store"
	"devgate/internal/supervisor"
	"devgate/internal/watcher"
)

const persistInterval = 10 * time.Second

func runServe(configPath string) error {
	fc, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := slog.Default()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	reg := config.NewRegistry(fc)

	st, err := store.New(fc.Store)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := st.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			log.Warn("store schema setup failed, persistence disabled", "error", err)
			st = nil
		}
	}

	sup := supervisor.New(reg, fc.Log.LogSetup(), st, log, supervisor.Options{
		PortRangeFrom: fc.Server.PortRangeFrom,
		PortRangeTo:   fc.Server.PortRangeTo,
	})
	limiter := ratelimit.New(fc.RateLimit.Window, fc.RateLimit.Threshold)
	rtr := router.New(reg, sup, limiter, log)

	cm := certs.NewManager(fc.Server.CertDir)
	if err := cm.Refresh(fc.Domains()); err != nil {
		log.Warn("certificate minting failed", "error", err)
	}

	w := watcher.New(configPath, reg, 0, log, func(nfc *config.FileConfig) {
		if err := cm.Refresh(nfc.Domains()); err != nil {
			log.Warn("certificate refresh failed", "error", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("config watcher stopped", "error", err)
		}
	}()
	go reaper.New(sup, reg, fc.Server.SweepInterval, log).Run(ctx)
	if st != nil {
		go sup.PersistLoop(ctx, persistInterval)
	}

	httpSrv := &http.Server{
		Addr:              fc.Server.HTTPAddr,
		Handler:           rtr,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http listener failed", "addr", fc.Server.HTTPAddr, "error", err)
		}
	}()

	var httpsSrv *http.Server
	if fc.Server.HTTPSAddr != "" {
		httpsSrv = &http.Server{
			Addr:              fc.Server.HTTPSAddr,
			Handler:           rtr,
			ReadHeaderTimeout: 10 * time.Second,
			TLSConfig: &tls.Config{
				GetCertificate: cm.GetCertificate,
				MinVersion:     tls.VersionTLS12,
			},
		}
		go func() {
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("https listener failed", "addr", fc.Server.HTTPSAddr, "error", err)
			}
		}()
	}

	var adminSrv *http.Server
	if fc.Server.AdminAddr != "" {
		adminSrv, err = server.NewServer(fc.Server.AdminAddr, "/api", sup, reg, w.Reload)
		if err != nil {
			return err
		}
	}

	log.Info("devgate serving",
		"http", fc.Server.HTTPAddr,
		"https", fc.Server.HTTPSAddr,
		"admin", fc.Server.AdminAddr,
		"projects", len(fc.Projects),
		"mappings", len(fc.Mappings))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			log.Info("reloading config on SIGHUP")
			_ = w.Reload()
			continue
		}
		log.Info("shutting down", "signal", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if httpsSrv != nil {
		_ = httpsSrv.Shutdown(shutdownCtx)
	}
	if adminSrv != nil {
		_ = adminSrv.Shutdown(shutdownCtx)
	}
	cancel()
	sup.Cleanup()
	return nil
}
