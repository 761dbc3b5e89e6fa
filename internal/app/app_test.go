// Package app provides unit tests for the App orchestrator.
package app

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/brianly1003/nrelay/internal/config"
)

// --- New() Tests ---

func TestNew(t *testing.T) {
	cfg := config.Default()

	app, err := New(cfg, "", "1.0.0")

	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if app == nil {
		t.Fatal("New() returned nil")
	}
	if app.GetConfig() != cfg {
		t.Error("config not set correctly")
	}
	if app.version != "1.0.0" {
		t.Errorf("version = %s, want 1.0.0", app.version)
	}
	if app.running {
		t.Error("app should not be running initially")
	}
	select {
	case <-app.Ready():
		t.Error("app should not be ready before Start")
	default:
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, "", "1.0.0"); err == nil {
		t.Error("New(nil) should fail")
	}
}

// --- Getter Tests ---

func TestApp_Addr_BeforeStart(t *testing.T) {
	cfg := config.Default()
	app, _ := New(cfg, "", "1.0.0")

	if got := app.Addr(); got != "0.0.0.0:8008" {
		t.Errorf("Addr() = %q, want configured address", got)
	}
}

func TestApp_UptimeSeconds_BeforeStart(t *testing.T) {
	app, _ := New(config.Default(), "", "1.0.0")

	if got := app.UptimeSeconds(); got != 0 {
		t.Errorf("UptimeSeconds() = %d, want 0", got)
	}
}

func TestApp_UptimeSeconds_AfterStartTimeSet(t *testing.T) {
	app, _ := New(config.Default(), "", "1.0.0")
	app.startTime = time.Now().Add(-5 * time.Second)

	if got := app.UptimeSeconds(); got < 5 {
		t.Errorf("UptimeSeconds() = %d, want >= 5", got)
	}
}

// --- Lifecycle Tests ---

func TestApp_Start_AlreadyRunning(t *testing.T) {
	app, _ := New(config.Default(), "", "1.0.0")
	app.running = true

	err := app.Start(context.Background())
	if err == nil {
		t.Error("Start() should fail when already running")
	}
}

func TestApp_Start_InvalidDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "mysql"
	app, _ := New(cfg, "", "1.0.0")

	if err := app.Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for an unsupported driver")
	}
	if app.running {
		t.Error("app should not be running after a failed start")
	}
}

func TestApp_shutdown_NotRunning(t *testing.T) {
	app, _ := New(config.Default(), "", "1.0.0")

	if err := app.shutdown(); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestApp_reload(t *testing.T) {
	app, _ := New(config.Default(), "", "1.0.0")

	next := config.Default()
	next.Limits.Client.Subscription.MaxSubscriptions = 1
	app.reload(next)

	if app.GetConfig().Limits.Client.Subscription.MaxSubscriptions != 1 {
		t.Error("reload should replace the active settings")
	}
}

func TestApp_reload_AfterShutdown(t *testing.T) {
	app, _ := New(config.Default(), "", "1.0.0")
	app.running = true
	if err := app.shutdown(); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	next := config.Default()
	next.Limits.Client.Subscription.MaxSubscriptions = 1
	app.reload(next)

	if app.GetConfig() == next {
		t.Error("reload after shutdown must not replace the settings")
	}
}

func TestRestartRequired(t *testing.T) {
	tests := []struct {
		name   string
		change func(*config.Config)
		want   []string
	}{
		{"nothing", func(*config.Config) {}, nil},
		{"reloadable only", func(c *config.Config) { c.Limits.Client.Subscription.MaxFilters = 3 }, nil},
		{"port", func(c *config.Config) { c.Server.Port++ }, []string{"server.address"}},
		{"trusted proxies", func(c *config.Config) { c.Server.TrustedProxies = []string{"10.0.0.1"} }, []string{"server.trustedProxies"}},
		{"allowed origins", func(c *config.Config) { c.Server.AllowedOrigins = []string{"https://example.com"} }, []string{"server.allowedOrigins"}},
		{"heartbeat", func(c *config.Config) { c.Network.HeartbeatInterval = time.Second }, []string{"network"}},
		{"message limit", func(c *config.Config) { c.Limits.Message.Burst = 99 }, []string{"limits.message"}},
		{"database", func(c *config.Config) { c.Database.DSN = "other.db" }, []string{"database"}},
		{"redis", func(c *config.Config) { c.Redis.Enabled = true }, []string{"redis"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := config.Default()
			tt.change(next)

			got := restartRequired(config.Default(), next)
			if !slices.Equal(got, tt.want) {
				t.Errorf("restartRequired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcdef", 6, "abcdef"},
		{"long", "abcdefghij", 8, "abcde..."},
		{"tiny limit", "abcdef", 2, "ab"},
		{"empty", "", 5, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateString(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}
