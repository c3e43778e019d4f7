package gantry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/gantry"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := gantry.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := gantry.Config{
		Parallelism:       4,
		PollInterval:      time.Second,
		HeartbeatInterval: 10 * time.Second,
	}

	tests := []struct {
		name    string
		mutate  func(*gantry.Config)
		wantErr bool
	}{
		{"valid", func(_ *gantry.Config) {}, false},
		{"zero parallelism", func(c *gantry.Config) { c.Parallelism = 0 }, true},
		{"negative parallelism", func(c *gantry.Config) { c.Parallelism = -1 }, true},
		{"zero poll interval", func(c *gantry.Config) { c.PollInterval = 0 }, true},
		{"negative poll interval", func(c *gantry.Config) { c.PollInterval = -time.Second }, true},
		{"zero heartbeat interval", func(c *gantry.Config) { c.HeartbeatInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, gantry.ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
