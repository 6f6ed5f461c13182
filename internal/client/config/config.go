package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the survey client.
type Config struct {
	ServerURL      string
	RequestTimeout time.Duration

	DBPath string

	OnlineCheckInterval time.Duration
	HealthTimeout       time.Duration
	StatusInterval      time.Duration

	MaxPhotoSize   int64
	StorageQuota   int64
	QuotaThreshold float64

	FolderRetryAttempts int
	FolderRetryDelay    time.Duration
	QueueAttempts       int
	QueueBaseDelay      time.Duration
	QueueMaxDelay       time.Duration

	LogLevel   string
	LogFormat  string
	LogBackend string
	LogFile    string

	StatusAddr string
	InboxDir   string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	SurveyID int64
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.RequestTimeout = 30 * time.Second
	c.DBPath = defaultDBPath()
	c.OnlineCheckInterval = 10 * time.Second
	c.HealthTimeout = 5 * time.Second
	c.StatusInterval = 5 * time.Second
	c.MaxPhotoSize = 10 << 20
	c.StorageQuota = 0
	c.QuotaThreshold = 0.9
	c.FolderRetryAttempts = 3
	c.FolderRetryDelay = time.Second
	c.QueueAttempts = 5
	c.QueueBaseDelay = time.Second
	c.QueueMaxDelay = 30 * time.Second
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.LogBackend = "slog"
	c.StatusAddr = "127.0.0.1:8765"
	c.S3Region = "us-east-1"
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "fieldsync.db"
	}
	return filepath.Join(dir, "fieldsync", "fieldsync.db")
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags found in args. Later sources take
// precedence over earlier ones.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
