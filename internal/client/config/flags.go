package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/zonemedia/internal/flagx"
)

// FlagNames are the flags parseFlags consumes. Every other argument is left
// for the command dispatcher.
var FlagNames = []string{"-a", "-t", "-db", "-lib", "-dl", "-n", "-rate", "-user", "-metrics", "-match", "-log", "-grant"}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string    manifest endpoint (URL for http, host:port for grpc)
//	-t string    manifest transport: http or grpc
//	-db string   SQLite database path
//	-lib string  library directory
//	-dl string   download directory
//	-n int       parallel downloads per reconciliation
//	-rate int    download rate limit in bytes per second (0 = unlimited)
//	-user string current user id
//	-metrics     address for the Prometheus endpoint, e.g. :9100
//	-match       filename match mode: exact or contains
//	-log         log level
//	-grant       grant media library access without prompting
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, FlagNames)

	fs := flag.NewFlagSet("zonemedia", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ManifestEndpoint, "a", cfg.ManifestEndpoint, "manifest endpoint")
	fs.StringVar(&cfg.ManifestTransport, "t", cfg.ManifestTransport, "manifest transport (http|grpc)")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "database path")
	fs.StringVar(&cfg.LibraryDir, "lib", cfg.LibraryDir, "library directory")
	fs.StringVar(&cfg.DownloadDir, "dl", cfg.DownloadDir, "download directory")
	fs.IntVar(&cfg.DownloadConcurrency, "n", cfg.DownloadConcurrency, "parallel downloads")
	fs.IntVar(&cfg.RateLimit, "rate", cfg.RateLimit, "rate limit (bytes/s)")
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "current user id")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.MatchMode, "match", cfg.MatchMode, "filename match mode (exact|contains)")
	fs.StringVar(&cfg.LogLevel, "log", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.GrantMediaAccess, "grant", cfg.GrantMediaAccess, "grant media library access")

	return fs.Parse(args)
}

// CommandArgs strips the configuration flags and their values from args and
// returns the command words.
func CommandArgs(args []string) []string {
	valueFlags := []string{"-c", "-config"}
	for _, f := range FlagNames {
		if f != "-grant" {
			valueFlags = append(valueFlags, f)
		}
	}
	return flagx.Positional(args, valueFlags)
}
