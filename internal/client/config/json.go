package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/zonemedia/internal/flagx"
	"github.com/dmitrijs2005/zonemedia/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields tell "absent" from zero, so a file only overrides what it names.
type JsonConfig struct {
	ManifestEndpoint    *string         `json:"manifest_endpoint"`
	ManifestTransport   *string         `json:"manifest_transport"`
	RequestTimeout      *timex.Duration `json:"request_timeout"`
	DatabasePath        *string         `json:"database_path"`
	LibraryDir          *string         `json:"library_dir"`
	DownloadDir         *string         `json:"download_dir"`
	DownloadConcurrency *int            `json:"download_concurrency"`
	RateLimit           *int            `json:"rate_limit"`
	Retries             *int            `json:"retries"`
	ProgressInterval    *timex.Duration `json:"progress_interval"`
	ResumeInterval      *timex.Duration `json:"resume_interval"`
	MatchMode           *string         `json:"match_mode"`
	EvictMaxZones       *int            `json:"evict_max_zones"`
	CheckpointBackend   *string         `json:"checkpoint_backend"`
	RedisAddr           *string         `json:"redis_addr"`
	RedisDB             *int            `json:"redis_db"`
	S3Region            *string         `json:"s3_region"`
	S3Endpoint          *string         `json:"s3_endpoint"`
	UserID              *string         `json:"user_id"`
	GrantMediaAccess    *bool           `json:"grant_media_access"`
	MetricsAddr         *string         `json:"metrics_addr"`
	OTLPEndpoint        *string         `json:"otlp_endpoint"`
	LogLevel            *string         `json:"log_level"`
	EnvFile             *string         `json:"env_file"`
}

// parseJson overlays cfg with the JSON file named by -c or -config in args.
// Without either flag nothing happens. Secrets are not read from JSON; use
// the environment for those.
func parseJson(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	setString(&cfg.ManifestEndpoint, jc.ManifestEndpoint)
	setString(&cfg.ManifestTransport, jc.ManifestTransport)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.LibraryDir, jc.LibraryDir)
	setString(&cfg.DownloadDir, jc.DownloadDir)
	setString(&cfg.MatchMode, jc.MatchMode)
	setString(&cfg.CheckpointBackend, jc.CheckpointBackend)
	setString(&cfg.RedisAddr, jc.RedisAddr)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.UserID, jc.UserID)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
	setString(&cfg.OTLPEndpoint, jc.OTLPEndpoint)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.EnvFile, jc.EnvFile)

	setInt(&cfg.DownloadConcurrency, jc.DownloadConcurrency)
	setInt(&cfg.RateLimit, jc.RateLimit)
	setInt(&cfg.Retries, jc.Retries)
	setInt(&cfg.EvictMaxZones, jc.EvictMaxZones)
	setInt(&cfg.RedisDB, jc.RedisDB)

	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.ProgressInterval != nil {
		cfg.ProgressInterval = jc.ProgressInterval.Duration
	}
	if jc.ResumeInterval != nil {
		cfg.ResumeInterval = jc.ResumeInterval.Duration
	}
	if jc.GrantMediaAccess != nil {
		cfg.GrantMediaAccess = *jc.GrantMediaAccess
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
