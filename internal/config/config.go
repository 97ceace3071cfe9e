// Package config loads ingestion-service configuration from the
// environment, optionally overlaid with secrets from Vault.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// Config holds every externally-tunable knob for the ingestion pipeline.
type Config struct {
	Port int

	KafkaBrokers []string
	RedisURL     string
	DatabaseURL  string
	GeoIPDBPath  string
	NATSURL      string

	OTelEndpoint string
	DevMode      bool

	BufferHard     int
	BufferSoft     int
	BufferInterval time.Duration
}

const (
	defaultPort           = 4000
	defaultBufferHard     = 10_000
	defaultBufferSoft     = 1_000
	defaultBufferInterval = 5 * time.Second
)

// Load builds a Config from the environment, overlaying values read from
// Vault KV2 when VAULT_ADDR is set. Vault values never override an
// explicitly-set environment variable — env always wins, matching the
// teacher's convention of env-first defaults with Vault filling gaps.
func Load() (*Config, error) {
	secrets, err := loadVaultOverlay()
	if err != nil {
		return nil, fmt.Errorf("vault overlay: %w", err)
	}

	cfg := &Config{
		Port:           envInt("PORT", defaultPort),
		KafkaBrokers:   splitCSV(envOrSecret("KAFKA_BROKERS", secrets)),
		RedisURL:       envOrSecret("REDIS_URL", secrets),
		DatabaseURL:    envOrSecret("DATABASE_URL", secrets),
		GeoIPDBPath:    envOrSecret("GEOIP_DB_PATH", secrets),
		NATSURL:        envOrSecret("NATS_URL", secrets),
		OTelEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DevMode:        envBool("DEV_MODE", false),
		BufferHard:     envInt("BUFFER_HARD", defaultBufferHard),
		BufferSoft:     envInt("BUFFER_SOFT", defaultBufferSoft),
		BufferInterval: envDuration("BUFFER_INTERVAL_MS", defaultBufferInterval),
	}

	return cfg, nil
}

// loadVaultOverlay reads secret/data/arc/ingest-service from Vault when
// VAULT_ADDR is present. Absence of VAULT_ADDR is not an error — the
// service must start on env vars alone.
func loadVaultOverlay() (map[string]interface{}, error) {
	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		return nil, nil
	}

	vaultToken := os.Getenv("VAULT_TOKEN")
	if vaultToken == "" {
		vaultToken = "root"
	}
	secretPath := os.Getenv("VAULT_SECRET_PATH")
	if secretPath == "" {
		secretPath = "secret/data/arc/ingest-service"
	}

	cfg := api.DefaultConfig()
	cfg.Address = vaultAddr
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client init: %w", err)
	}
	client.SetToken(vaultToken)

	secret, err := client.Logical().ReadWithContext(context.Background(), secretPath)
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	return data, nil
}

func envOrSecret(key string, secrets map[string]interface{}) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if secrets == nil {
		return ""
	}
	if v, ok := secrets[key].(string); ok {
		return v
	}
	return ""
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
