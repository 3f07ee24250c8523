package sshclient

import "testing"

func TestNewClientConfigDefaults(t *testing.T) {
	cfg := NewClientConfig("example.com", "alice")

	if cfg.Port != 22 {
		t.Errorf("Port = %d, want 22", cfg.Port)
	}
	if cfg.Term != "linux" {
		t.Errorf("Term = %q, want %q", cfg.Term, "linux")
	}
	if cfg.Cols != 80 || cfg.Rows != 24 {
		t.Errorf("Cols/Rows = %d/%d, want 80/24", cfg.Cols, cfg.Rows)
	}
	if cfg.History != 100 {
		t.Errorf("History = %d, want 100", cfg.History)
	}
	if cfg.HostKeyPolicy != HostKeyAutoAdd {
		t.Errorf("HostKeyPolicy = %q, want %q", cfg.HostKeyPolicy, HostKeyAutoAdd)
	}
	if !cfg.X11 {
		t.Errorf("X11 should default to true")
	}
	if cfg.X11Screen != 0 {
		t.Errorf("X11Screen = %d, want 0", cfg.X11Screen)
	}
	if cfg.X11AuthProto != "MIT-MAGIC-COOKIE-1" {
		t.Errorf("X11AuthProto = %q, want MIT-MAGIC-COOKIE-1", cfg.X11AuthProto)
	}
	if cfg.Timeouts.Connect <= 0 {
		t.Errorf("Timeouts.Connect should have a positive default")
	}
}

func TestClientConfigLoggerFallsBackToDiscard(t *testing.T) {
	cfg := NewClientConfig("example.com", "alice")
	if cfg.logger() == nil {
		t.Fatalf("logger() should never return nil")
	}
	// should not panic even though no Logger was configured
	cfg.logger().ILogf("hello %s", "world")
}
