package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	c := Load()
	if c.WebSocketPath != "/ws" {
		t.Fatalf("expected default websocket path /ws, got %q", c.WebSocketPath)
	}
	if c.MaxConnections != 1000 {
		t.Fatalf("expected default max connections 1000, got %d", c.MaxConnections)
	}
	if c.HeartbeatInterval != 30*time.Second {
		t.Fatalf("expected default heartbeat interval 30s, got %v", c.HeartbeatInterval)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("WEBSOCKET_MAX_CONNECTIONS", "42")
	defer os.Unsetenv("WEBSOCKET_MAX_CONNECTIONS")

	c := Load()
	if c.MaxConnections != 42 {
		t.Fatalf("expected overridden max connections 42, got %d", c.MaxConnections)
	}
}

func TestValidate_RejectsNonPositiveIntervals(t *testing.T) {
	c := Load()
	c.HeartbeatInterval = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero heartbeat interval")
	}
}

func TestValidate_RejectsOutOfRangeRatio(t *testing.T) {
	c := Load()
	c.SpeedCreativityBalance = 1.5
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for out-of-range speed_creativity_balance")
	}
}

func TestValidate_RejectsNonPositiveMaxUpdates(t *testing.T) {
	c := Load()
	c.MaxUpdatesPerOperation = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-positive max updates per operation")
	}
}

func TestValidate_RejectsProgressiveFeedbackWithoutEvents(t *testing.T) {
	c := Load()
	c.EventsEnabled = false
	c.ProgressiveFeedbackEnabled = true
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for progressive_feedback enabled without events")
	}
}
