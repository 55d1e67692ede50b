package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("COMFY_BASE_URL", "")
	t.Setenv("IMAGE_SOURCE_HOST_ALLOWLIST", "")
	t.Setenv("INDEX_BACKEND", "")
	t.Setenv("TRUST_PROXY_HEADERS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.UploadMaxAttempts != 3 {
		t.Fatalf("UploadMaxAttempts = %d, want 3", cfg.UploadMaxAttempts)
	}
	if cfg.UploadRetryDelay != 2*time.Second {
		t.Fatalf("UploadRetryDelay = %s, want 2s", cfg.UploadRetryDelay)
	}
	if cfg.PollInterval != time.Second {
		t.Fatalf("PollInterval = %s, want 1s", cfg.PollInterval)
	}
	if cfg.RetentionInterval != time.Hour {
		t.Fatalf("RetentionInterval = %s, want 1h", cfg.RetentionInterval)
	}
	if cfg.RetentionMaxAge() != 7*24*time.Hour {
		t.Fatalf("RetentionMaxAge = %s, want 168h", cfg.RetentionMaxAge())
	}
	if cfg.RetentionMaxBytes() != 5*1024*1024*1024 {
		t.Fatalf("RetentionMaxBytes = %d, want 5GiB", cfg.RetentionMaxBytes())
	}
	if cfg.IndexBackend != "memory" {
		t.Fatalf("IndexBackend = %q, want memory", cfg.IndexBackend)
	}
	if len(cfg.ImageSourceAllowlist) != 1 || cfg.ImageSourceAllowlist[0] != "127.0.0.1" {
		t.Fatalf("ImageSourceAllowlist mismatch: %#v", cfg.ImageSourceAllowlist)
	}
	if cfg.TrustProxyHeaders {
		t.Fatalf("TrustProxyHeaders = true, want false by default")
	}
}

func TestLoadConfigTrustProxyHeaders(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.TrustProxyHeaders {
		t.Fatalf("TrustProxyHeaders = false, want true")
	}
}

func TestLoadConfigMergesExplicitAllowlist(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("COMFY_BASE_URL", "http://gpu.example.com:27194/")
	t.Setenv("IMAGE_SOURCE_HOST_ALLOWLIST", "Media.example.com, gpu.example.com ,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ComfyBaseURL != "http://gpu.example.com:27194" {
		t.Fatalf("ComfyBaseURL = %q, want trailing slash trimmed", cfg.ComfyBaseURL)
	}
	expected := []string{"gpu.example.com", "media.example.com"}
	if len(cfg.ImageSourceAllowlist) != len(expected) {
		t.Fatalf("ImageSourceAllowlist mismatch: got %#v want %#v", cfg.ImageSourceAllowlist, expected)
	}
	for i, host := range expected {
		if cfg.ImageSourceAllowlist[i] != host {
			t.Fatalf("ImageSourceAllowlist[%d] = %q, want %q", i, cfg.ImageSourceAllowlist[i], host)
		}
	}
}

func TestLoadConfigFileOverlayLosesToEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := "retention_max_age_days: 3\nretention_max_size_gb: 0.5\ncomfy_poll_interval_ms: 250\nkafka_brokers:\n  - kafka-1:9092\n  - kafka-2:9092\nkafka_topic: artifacts\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("COMFY_POLL_INTERVAL_MS", "500")
	t.Setenv("RETENTION_MAX_AGE_DAYS", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RetentionMaxAgeDays != 3 {
		t.Fatalf("RetentionMaxAgeDays = %d, want 3 from file", cfg.RetentionMaxAgeDays)
	}
	if cfg.RetentionMaxBytes() != 512*1024*1024 {
		t.Fatalf("RetentionMaxBytes = %d, want 512MiB", cfg.RetentionMaxBytes())
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Fatalf("PollInterval = %s, want env value 500ms", cfg.PollInterval)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("KafkaBrokers = %#v", cfg.KafkaBrokers)
	}
}

func TestLoadConfigRejectsPostgresWithoutURL(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("INDEX_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig expected error when postgres index has no DATABASE_URL")
	}
}

func TestLoadConfigRejectsUnknownBackoff(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("COMFY_UPLOAD_BACKOFF", "fibonacci")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig expected error for unknown backoff policy")
	}
}
