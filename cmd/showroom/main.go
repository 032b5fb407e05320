// Package main is the entry point for the showroom runner.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/modelrow/modelrow/internal/config"
	"github.com/modelrow/modelrow/internal/fetch"
	"github.com/modelrow/modelrow/internal/logger"
	"github.com/modelrow/modelrow/internal/manifest"
	"github.com/modelrow/modelrow/internal/registry"
	"github.com/modelrow/modelrow/internal/stage"
)

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.LogFile)
	defer log.Sync()

	log.Info("=== Modelrow Showroom ===")
	log.Sugar().Debugf("Config: %+v", cfg)

	// First run: persist the defaults so users have a file to edit.
	if config.FoundConfigFile() == "" {
		if err := cfg.Save(); err != nil {
			log.Warn("saving default config", zap.Error(err))
		}
	}

	// A missing manifest is not fatal; the drop folder still works.
	m, err := manifest.Load(cfg.Manifest.Path, log)
	if err != nil {
		log.Warn("manifest unavailable, starting empty",
			zap.String("path", cfg.Manifest.Path), zap.Error(err))
		m = nil
	}

	client := fetch.New(&http.Client{Timeout: cfg.Fetch.Timeout}, log)
	reg := registry.New(m, client, log)
	defer reg.Dispose()

	visible := 0
	if m != nil {
		visible = m.DefaultVisibleCount
	}
	if cfg.Stage.VisibleCount > 0 {
		visible = cfg.Stage.VisibleCount
	}

	st := stage.New(reg, visible, log)
	defer st.Close()

	if cfg.Data.DropDir != "" {
		if err := os.MkdirAll(cfg.Data.DropDir, 0755); err != nil {
			log.Error("creating drop folder", zap.Error(err))
		} else if err := st.WatchDropFolder(cfg.Data.DropDir); err != nil {
			log.Error("watching drop folder", zap.Error(err))
		}
	}

	preload(st, reg, log)
	run(st, log)

	log.Info("showroom closed normally")
}

// preload fills the visible slots with the manifest's first model packs.
func preload(st *stage.Stage, reg *registry.Registry, log *zap.Logger) {
	ctx := context.Background()
	slot := 0
	for _, id := range reg.ModelIDs() {
		if slot >= st.VisibleCount() {
			break
		}
		if err := st.LoadModel(ctx, slot, id); err != nil {
			log.Error("preloading model pack",
				zap.String("id", id), zap.Error(err))
			continue
		}
		slot++
	}
}

// run drives the tick loop until SIGINT or SIGTERM.
func run(st *stage.Stage, log *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case s := <-sig:
			log.Info("shutting down", zap.String("signal", s.String()))
			return
		case now := <-ticker.C:
			st.Tick(now.Sub(last).Seconds())
			last = now
		}
	}
}
