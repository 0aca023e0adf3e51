package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tutorhub/internal/config"
)

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	return cfg
}

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = -1

	if _, err := NewApplication(cfg); err == nil {
		t.Error("invalid config accepted")
	}
}

func TestNewApplicationWiresComponents(t *testing.T) {
	application, err := NewApplication(testAppConfig(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	if application.store == nil || application.turns == nil ||
		application.gateway == nil || application.apiServer == nil {
		t.Error("component missing after construction")
	}

	// Migrations ran during construction; the store is queryable.
	if err := application.store.HealthCheck(context.Background()); err != nil {
		t.Errorf("store unhealthy after init: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestApplicationStopIsOrderly(t *testing.T) {
	application, err := NewApplication(testAppConfig(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// The registry and store are down; a second stop must not panic.
	_ = application.Stop(ctx)
}
