package infra

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents application configuration loaded from environment variables.
// An optional YAML file named by CONFIG_FILE supplies values for keys that are
// not set in the environment.
type Config struct {
	AppEnv           string `validate:"required"`
	Port             string `validate:"required,numeric"`
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	ComfyBaseURL      string        `validate:"required,url"`
	UploadMaxAttempts int           `validate:"gte=1,lte=20"`
	UploadRetryDelay  time.Duration `validate:"gt=0"`
	UploadMaxDelay    time.Duration
	UploadJitter      time.Duration `validate:"gte=0"`
	UploadMaxElapsed  time.Duration `validate:"gte=0"`
	UploadBackoff     string        `validate:"oneof=constant exponential"`
	UploadTimeout     time.Duration `validate:"gt=0"`
	PollInterval      time.Duration `validate:"gt=0"`
	PollMaxWait       time.Duration `validate:"gt=0"`
	PollMaxErrors     int           `validate:"gte=1"`

	WorkflowTemplatePath string `validate:"required"`
	WorkflowImageNode    string `validate:"required"`
	WorkflowPromptNode   string `validate:"required"`
	WorkflowFrameNode    string `validate:"required"`
	WorkflowOutputNode   string `validate:"required"`
	FramesDir            string `validate:"required"`
	DefaultFrameName     string `validate:"required"`
	UploadsDir           string `validate:"required"`
	StorageImagesDir     string `validate:"required"`
	ArtifactMaxBytes     int64  `validate:"gt=0"`

	IndexBackend    string `validate:"oneof=memory sqlite postgres"`
	IndexSQLitePath string `validate:"required_if=IndexBackend sqlite"`
	DatabaseURL     string `validate:"required_if=IndexBackend postgres"`

	RetentionInterval   time.Duration `validate:"gt=0"`
	RetentionMaxAgeDays int           `validate:"gte=0"`
	RetentionMaxSizeGB  float64       `validate:"gte=0"`

	ImageSourceAllowlist []string
	GeoIPDBPath          string
	KafkaBrokers         []string
	KafkaTopic           string `validate:"required_with=KafkaBrokers"`
	PhotoMaxDimension    int    `validate:"gte=0"`
	SubmitMaxBytes       int64  `validate:"gt=0"`
	RateLimitPerMin      int    `validate:"gte=0"`
	CORSAllowedOrigins   []string
	// TrustProxyHeaders lets X-Forwarded-For and X-Real-IP set the client
	// address. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders    bool
}

// RetentionMaxAge converts the configured day count into a duration.
func (c *Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.RetentionMaxAgeDays) * 24 * time.Hour
}

// RetentionMaxBytes converts the configured GiB budget into bytes.
func (c *Config) RetentionMaxBytes() int64 {
	return int64(c.RetentionMaxSizeGB * 1024 * 1024 * 1024)
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:           src.getEnv("APP_ENV", "development"),
		Port:             src.getEnv("PORT", "3000"),
		HTTPReadTimeout:  time.Second * time.Duration(src.getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout: time.Second * time.Duration(src.getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(src.getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		ComfyBaseURL:      strings.TrimRight(src.getEnv("COMFY_BASE_URL", "http://127.0.0.1:8188"), "/"),
		UploadMaxAttempts: src.getEnvInt("COMFY_UPLOAD_MAX_ATTEMPTS", 3),
		UploadRetryDelay:  time.Millisecond * time.Duration(src.getEnvInt("COMFY_UPLOAD_RETRY_DELAY_MS", 2000)),
		UploadMaxDelay:    time.Millisecond * time.Duration(src.getEnvInt("COMFY_UPLOAD_MAX_DELAY_MS", 10000)),
		UploadJitter:      time.Millisecond * time.Duration(src.getEnvInt("COMFY_UPLOAD_JITTER_MS", 250)),
		UploadMaxElapsed:  time.Second * time.Duration(src.getEnvInt("COMFY_UPLOAD_MAX_ELAPSED_SECONDS", 120)),
		UploadBackoff:     strings.ToLower(src.getEnv("COMFY_UPLOAD_BACKOFF", "exponential")),
		UploadTimeout:     time.Second * time.Duration(src.getEnvInt("COMFY_UPLOAD_TIMEOUT_SECONDS", 60)),
		PollInterval:      time.Millisecond * time.Duration(src.getEnvInt("COMFY_POLL_INTERVAL_MS", 1000)),
		PollMaxWait:       time.Second * time.Duration(src.getEnvInt("COMFY_POLL_MAX_WAIT_SECONDS", 300)),
		PollMaxErrors:     src.getEnvInt("COMFY_POLL_MAX_ERRORS", 1),

		WorkflowTemplatePath: src.getEnv("WORKFLOW_TEMPLATE_PATH", "./workflow_api.json"),
		WorkflowImageNode:    src.getEnv("WORKFLOW_IMAGE_NODE", "11"),
		WorkflowPromptNode:   src.getEnv("WORKFLOW_PROMPT_NODE", "29"),
		WorkflowFrameNode:    src.getEnv("WORKFLOW_FRAME_NODE", "38"),
		WorkflowOutputNode:   src.getEnv("WORKFLOW_OUTPUT_NODE", "20"),
		FramesDir:            src.getEnv("FRAMES_DIR", "./public/images"),
		DefaultFrameName:     src.getEnv("DEFAULT_FRAME_NAME", "sample_frame.png"),
		UploadsDir:           src.getEnv("UPLOADS_DIR", "./uploads"),
		StorageImagesDir:     src.getEnv("STORAGE_IMAGES_DIR", "./storage/images"),
		ArtifactMaxBytes:     int64(src.getEnvInt("ARTIFACT_MAX_BYTES", 50<<20)),

		IndexBackend:    strings.ToLower(src.getEnv("INDEX_BACKEND", "memory")),
		IndexSQLitePath: src.getEnv("INDEX_SQLITE_PATH", "./storage/index.db"),
		DatabaseURL:     src.getEnv("DATABASE_URL", ""),

		RetentionInterval:   time.Minute * time.Duration(src.getEnvInt("RETENTION_INTERVAL_MINUTES", 60)),
		RetentionMaxAgeDays: src.getEnvInt("RETENTION_MAX_AGE_DAYS", 7),
		RetentionMaxSizeGB:  src.getEnvFloat("RETENTION_MAX_SIZE_GB", 5),

		GeoIPDBPath:        src.getEnv("GEOIP_DB_PATH", ""),
		KafkaBrokers:       src.getEnvList("KAFKA_BROKERS"),
		KafkaTopic:         src.getEnv("KAFKA_TOPIC", ""),
		PhotoMaxDimension:  src.getEnvInt("PHOTO_MAX_DIMENSION", 1536),
		SubmitMaxBytes:     int64(src.getEnvInt("SUBMIT_MAX_BYTES", 20<<20)),
		RateLimitPerMin:    src.getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins: src.getEnvList("CORS_ALLOWED_ORIGINS"),
		TrustProxyHeaders:  src.getEnvBool("TRUST_PROXY_HEADERS", false),
	}
	cfg.ImageSourceAllowlist = mergeAllowlist(cfg.ComfyBaseURL, src.getEnvList("IMAGE_SOURCE_HOST_ALLOWLIST"))

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// source resolves a key from the environment first and the overlay file second.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return source{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return source{}, fmt.Errorf("parse config file: %w", err)
	}
	values := make(map[string]string, len(doc))
	for k, v := range doc {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch typed := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(typed))
			for _, item := range typed {
				parts = append(parts, fmt.Sprint(item))
			}
			values[key] = strings.Join(parts, ",")
		default:
			values[key] = fmt.Sprint(typed)
		}
	}
	return source{file: values}, nil
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	if v, ok := s.file[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), true
	}
	return "", false
}

func (s source) getEnv(key, fallback string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return fallback
}

func (s source) getEnvInt(key string, fallback int) int {
	if v, ok := s.lookup(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func (s source) getEnvBool(key string, fallback bool) bool {
	if v, ok := s.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func (s source) getEnvFloat(key string, fallback float64) float64 {
	if v, ok := s.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (s source) getEnvList(key string) []string {
	v, ok := s.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// mergeAllowlist always trusts the generation backend host and adds any
// explicitly configured hosts. The result is lower-cased, deduplicated and sorted.
func mergeAllowlist(baseURL string, extra []string) []string {
	seen := map[string]struct{}{}
	if u, err := url.Parse(baseURL); err == nil && u.Hostname() != "" {
		seen[strings.ToLower(u.Hostname())] = struct{}{}
	}
	for _, host := range extra {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for host := range seen {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}
