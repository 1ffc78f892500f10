package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings for the zonemedia client.
type Config struct {
	// Manifest service.
	ManifestEndpoint  string        `envconfig:"ZONEMEDIA_MANIFEST_ENDPOINT" validate:"required"`
	ManifestTransport string        `envconfig:"ZONEMEDIA_MANIFEST_TRANSPORT" validate:"oneof=http grpc"`
	RequestTimeout    time.Duration `envconfig:"ZONEMEDIA_REQUEST_TIMEOUT" validate:"gt=0"`

	// Local storage.
	DatabasePath string `envconfig:"ZONEMEDIA_DATABASE_PATH" validate:"required"`
	LibraryDir   string `envconfig:"ZONEMEDIA_LIBRARY_DIR" validate:"required"`
	DownloadDir  string `envconfig:"ZONEMEDIA_DOWNLOAD_DIR" validate:"required"`

	// Downloads.
	DownloadConcurrency int           `envconfig:"ZONEMEDIA_DOWNLOAD_CONCURRENCY" validate:"min=1,max=32"`
	RateLimit           int           `envconfig:"ZONEMEDIA_RATE_LIMIT" validate:"min=0"`
	Retries             int           `envconfig:"ZONEMEDIA_RETRIES" validate:"min=0,max=10"`
	ProgressInterval    time.Duration `envconfig:"ZONEMEDIA_PROGRESS_INTERVAL" validate:"min=0"`
	ResumeInterval      time.Duration `envconfig:"ZONEMEDIA_RESUME_INTERVAL" validate:"min=0"`

	// Reconciliation.
	MatchMode     string `envconfig:"ZONEMEDIA_MATCH_MODE" validate:"oneof=exact contains"`
	EvictMaxZones int    `envconfig:"ZONEMEDIA_EVICT_MAX_ZONES" validate:"min=0"`

	// Checkpoint store.
	CheckpointBackend string `envconfig:"ZONEMEDIA_CHECKPOINT_BACKEND" validate:"oneof=sqlite redis"`
	RedisAddr         string `envconfig:"ZONEMEDIA_REDIS_ADDR" validate:"required_if=CheckpointBackend redis"`
	RedisPassword     string `envconfig:"ZONEMEDIA_REDIS_PASSWORD"`
	RedisDB           int    `envconfig:"ZONEMEDIA_REDIS_DB" validate:"min=0"`

	// Object storage for s3:// manifest entries.
	S3Region    string `envconfig:"ZONEMEDIA_S3_REGION"`
	S3Endpoint  string `envconfig:"ZONEMEDIA_S3_ENDPOINT"`
	S3AccessKey string `envconfig:"ZONEMEDIA_S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"ZONEMEDIA_S3_SECRET_KEY"`

	// Session.
	UserID      string `envconfig:"ZONEMEDIA_USER_ID"`
	AccessToken string `envconfig:"ZONEMEDIA_ACCESS_TOKEN"`
	TokenSecret string `envconfig:"ZONEMEDIA_TOKEN_SECRET"`

	GrantMediaAccess bool   `envconfig:"ZONEMEDIA_GRANT_MEDIA_ACCESS"`
	MetricsAddr      string `envconfig:"ZONEMEDIA_METRICS_ADDR"`
	OTLPEndpoint     string `envconfig:"ZONEMEDIA_OTLP_ENDPOINT"`
	LogLevel         string `envconfig:"ZONEMEDIA_LOG_LEVEL" validate:"oneof=debug info warn error"`
	EnvFile          string `ignored:"true"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ManifestEndpoint = "http://127.0.0.1:8080/api/zones/media"
	c.ManifestTransport = "http"
	c.RequestTimeout = 15 * time.Second

	c.DatabasePath = "zonemedia.db"
	c.LibraryDir = "library"
	c.DownloadDir = "downloads"

	c.DownloadConcurrency = 3
	c.Retries = 2
	c.ProgressInterval = time.Second
	c.ResumeInterval = 30 * time.Second

	c.MatchMode = "exact"
	c.CheckpointBackend = "sqlite"
	c.S3Region = "us-east-1"
	c.LogLevel = "info"
	c.EnvFile = ".env"
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig builds a Config from defaults, then the JSON file named by -c,
// then the .env file and ZONEMEDIA_* environment, then command-line flags.
// Later sources take precedence over earlier ones.
func LoadConfig() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
