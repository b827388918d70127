package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"pairlink/internal/protocol"
)

// Config holds the client configuration, loaded from the environment
// (a .env file is honored when present).
type Config struct {
	ServerURL  string
	SocketPath string

	DeviceID   string
	DeviceName string
	PeerID     string
	Role       protocol.Role

	LogLevel string

	HeartbeatInterval  time.Duration
	ReregisterInterval time.Duration
	HandshakeWait      time.Duration
	DialTimeout        time.Duration
	BackoffBase        time.Duration
	BackoffMax         time.Duration

	ReconcileLimit int
}

// Env abstracts variable lookup so tests can inject values.
type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv(osEnv{})
}

func LoadFromEnv(env Env) (Config, error) {
	cfg := Config{
		SocketPath:         "/ws",
		DeviceName:         "pairlink-client",
		Role:               protocol.RoleWatched,
		LogLevel:           "info",
		HeartbeatInterval:  25 * time.Second,
		ReregisterInterval: 30 * time.Second,
		HandshakeWait:      5 * time.Second,
		DialTimeout:        10 * time.Second,
		BackoffBase:        1 * time.Second,
		BackoffMax:         60 * time.Second,
		ReconcileLimit:     50,
	}

	cfg.ServerURL = env.Getenv("PAIRLINK_SERVER_URL")
	if cfg.ServerURL == "" {
		return Config{}, fmt.Errorf("PAIRLINK_SERVER_URL is required")
	}

	cfg.DeviceID = env.Getenv("PAIRLINK_DEVICE_ID")
	cfg.PeerID = env.Getenv("PAIRLINK_PEER_ID")

	if raw := env.Getenv("PAIRLINK_DEVICE_NAME"); raw != "" {
		cfg.DeviceName = raw
	}
	if raw := env.Getenv("PAIRLINK_SOCKET_PATH"); raw != "" {
		cfg.SocketPath = raw
	}
	if raw := env.Getenv("PAIRLINK_ROLE"); raw != "" {
		role := protocol.Role(raw)
		if !role.Valid() {
			return Config{}, fmt.Errorf("invalid PAIRLINK_ROLE %q", raw)
		}
		cfg.Role = role
	}
	if raw := env.Getenv("PAIRLINK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	var err error
	if cfg.HeartbeatInterval, err = seconds(env, "PAIRLINK_HEARTBEAT_SECONDS", cfg.HeartbeatInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReregisterInterval, err = seconds(env, "PAIRLINK_REREGISTER_SECONDS", cfg.ReregisterInterval); err != nil {
		return Config{}, err
	}
	if cfg.HandshakeWait, err = seconds(env, "PAIRLINK_HANDSHAKE_WAIT_SECONDS", cfg.HandshakeWait); err != nil {
		return Config{}, err
	}
	if cfg.DialTimeout, err = seconds(env, "PAIRLINK_DIAL_TIMEOUT_SECONDS", cfg.DialTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BackoffBase, err = seconds(env, "PAIRLINK_BACKOFF_BASE_SECONDS", cfg.BackoffBase); err != nil {
		return Config{}, err
	}
	if cfg.BackoffMax, err = seconds(env, "PAIRLINK_BACKOFF_MAX_SECONDS", cfg.BackoffMax); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("PAIRLINK_RECONCILE_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid PAIRLINK_RECONCILE_LIMIT")
		}
		cfg.ReconcileLimit = n
	}

	if cfg.BackoffMax < cfg.BackoffBase {
		return Config{}, fmt.Errorf("PAIRLINK_BACKOFF_MAX_SECONDS below base")
	}

	return cfg, nil
}

func seconds(env Env, key string, def time.Duration) (time.Duration, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(n) * time.Second, nil
}
