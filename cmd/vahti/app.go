package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/engine"
	"github.com/yairfalse/vahti/gateway"
	_ "github.com/yairfalse/vahti/gateway/cloudtrail" // registers the cloudtrail source
	"github.com/yairfalse/vahti/policy"
	"github.com/yairfalse/vahti/registry"
)

// app holds everything a command needs after bootstrap.
type app struct {
	cfg      *config.Config
	store    *registry.Store
	auditLog *audit.Log
	engine   *engine.Engine
}

// openApp loads the config and wires the engine.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	store, err := registry.Open(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	// File thresholds apply only until an operator stores a config.
	if err := store.SeedEngineConfig(cfg.EngineConfig()); err != nil {
		_ = store.Close()
		return nil, err
	}

	auditLog, err := audit.Open(cfg.AuditDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sources := make([]gateway.EvidenceSource, 0, len(cfg.Sources))
	for _, entry := range cfg.Sources {
		src, err := gateway.NewSource(entry.Name, gateway.SourceConfig{
			Endpoint: entry.Endpoint,
			Region:   regionOrDefault(entry.Region, cfg.Region),
			Window:   entry.Window,
		})
		if err != nil {
			_ = auditLog.Close()
			_ = store.Close()
			return nil, err
		}
		sources = append(sources, src)
	}
	gw := gateway.New(sources, cfg.Daemon.SourceTimeout)

	var guard *policy.Guard
	if cfg.PolicyDir != "" {
		guard = policy.NewGuard()
		if err := guard.LoadDir(ctx, cfg.PolicyDir); err != nil {
			_ = auditLog.Close()
			_ = store.Close()
			return nil, err
		}
	}

	return &app{
		cfg:      cfg,
		store:    store,
		auditLog: auditLog,
		engine:   engine.New(gw, store, auditLog, guard),
	}, nil
}

func (a *app) Close() {
	_ = a.auditLog.Close()
	_ = a.store.Close()
}

func regionOrDefault(region, fallback string) string {
	if region != "" {
		return region
	}
	return fallback
}
