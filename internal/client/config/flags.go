package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// flagNames lists every flag owned by this package, in both dash forms.
var flagNames = func() []string {
	names := []string{"c", "config", "server", "db", "i", "log-level", "log-format", "log-backend", "log-file", "status-addr", "inbox", "survey", "quota", "s3-bucket"}
	out := make([]string, 0, 2*len(names))
	for _, n := range names {
		out = append(out, "-"+n, "--"+n)
	}
	return out
}()

// Split separates configuration flags from the rest of args.
func Split(args []string) (own, rest []string) {
	return flagx.SplitArgs(args, flagNames)
}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-server string       base URL of the survey API
//	-db string           path of the local store
//	-i int               online check interval in seconds
//	-log-level string    debug, info, warn or error
//	-log-format string   text or json
//	-log-backend string  slog or zap
//	-log-file string     log to a rotated file instead of stderr
//	-status-addr string  listen address of the local status API
//	-inbox string        directory watched for new photos
//	-survey int          survey id attached to uploaded entries
//	-quota int           local storage quota in bytes (0 disables)
//	-s3-bucket string    upload blobs to this bucket instead of the API
func parseFlags(cfg *Config, args []string) error {
	own, _ := Split(args)

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var configPath string
	fs.StringVar(&configPath, "c", "", "path to JSON config file")
	fs.StringVar(&configPath, "config", "", "path to JSON config file")

	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "base URL of the survey API")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path of the local store")
	interval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format")
	fs.StringVar(&cfg.LogBackend, "log-backend", cfg.LogBackend, "logging backend")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file")
	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "status API address")
	fs.StringVar(&cfg.InboxDir, "inbox", cfg.InboxDir, "photo inbox directory")
	fs.Int64Var(&cfg.SurveyID, "survey", cfg.SurveyID, "survey id")
	fs.Int64Var(&cfg.StorageQuota, "quota", cfg.StorageQuota, "storage quota in bytes")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket for photo blobs")

	if err := fs.Parse(own); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg.OnlineCheckInterval = time.Duration(*interval) * time.Second
	return nil
}
