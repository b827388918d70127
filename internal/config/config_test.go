package config

import (
	"testing"
	"time"

	"pairlink/internal/protocol"
)

type mapEnv map[string]string

func (e mapEnv) Getenv(key string) string { return e[key] }

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(mapEnv{"PAIRLINK_SERVER_URL": "http://localhost:3000"})
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.SocketPath != "/ws" {
		t.Fatalf("socket path = %q", cfg.SocketPath)
	}
	if cfg.Role != protocol.RoleWatched {
		t.Fatalf("role = %q", cfg.Role)
	}
	if cfg.HeartbeatInterval != 25*time.Second || cfg.ReregisterInterval != 30*time.Second {
		t.Fatalf("heartbeat defaults = %v / %v", cfg.HeartbeatInterval, cfg.ReregisterInterval)
	}
	if cfg.BackoffBase != time.Second || cfg.BackoffMax != 60*time.Second {
		t.Fatalf("backoff defaults = %v / %v", cfg.BackoffBase, cfg.BackoffMax)
	}
	if cfg.ReconcileLimit != 50 {
		t.Fatalf("reconcile limit = %d", cfg.ReconcileLimit)
	}
}

func TestServerURLRequired(t *testing.T) {
	if _, err := LoadFromEnv(mapEnv{}); err == nil {
		t.Fatal("missing server URL accepted")
	}
}

func TestOverrides(t *testing.T) {
	cfg, err := LoadFromEnv(mapEnv{
		"PAIRLINK_SERVER_URL":        "https://pair.example.com",
		"PAIRLINK_DEVICE_ID":         "dev-42",
		"PAIRLINK_PEER_ID":           "peer-42",
		"PAIRLINK_ROLE":              "watcher",
		"PAIRLINK_SOCKET_PATH":       "/realtime",
		"PAIRLINK_HEARTBEAT_SECONDS": "5",
		"PAIRLINK_RECONCILE_LIMIT":   "10",
	})
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.DeviceID != "dev-42" || cfg.PeerID != "peer-42" {
		t.Fatalf("ids = %q / %q", cfg.DeviceID, cfg.PeerID)
	}
	if cfg.Role != protocol.RoleWatcher {
		t.Fatalf("role = %q", cfg.Role)
	}
	if cfg.SocketPath != "/realtime" {
		t.Fatalf("socket path = %q", cfg.SocketPath)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("heartbeat = %v", cfg.HeartbeatInterval)
	}
	if cfg.ReconcileLimit != 10 {
		t.Fatalf("reconcile limit = %d", cfg.ReconcileLimit)
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := []mapEnv{
		{"PAIRLINK_SERVER_URL": "http://x", "PAIRLINK_ROLE": "spectator"},
		{"PAIRLINK_SERVER_URL": "http://x", "PAIRLINK_HEARTBEAT_SECONDS": "zero"},
		{"PAIRLINK_SERVER_URL": "http://x", "PAIRLINK_HEARTBEAT_SECONDS": "-3"},
		{"PAIRLINK_SERVER_URL": "http://x", "PAIRLINK_RECONCILE_LIMIT": "0"},
		{"PAIRLINK_SERVER_URL": "http://x", "PAIRLINK_BACKOFF_BASE_SECONDS": "30", "PAIRLINK_BACKOFF_MAX_SECONDS": "5"},
	}
	for _, env := range cases {
		if _, err := LoadFromEnv(env); err == nil {
			t.Fatalf("accepted %v", env)
		}
	}
}
