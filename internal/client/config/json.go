package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JSONConfig is a DTO used exclusively for JSON unmarshalling. Fields that
// are absent or zero leave the defaults in place.
type JSONConfig struct {
	ServerURL      string         `json:"server_url"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	DBPath         string         `json:"db_path"`

	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	HealthTimeout       timex.Duration `json:"health_timeout"`
	StatusInterval      timex.Duration `json:"status_interval"`

	MaxPhotoSize   int64   `json:"max_photo_size"`
	StorageQuota   int64   `json:"storage_quota"`
	QuotaThreshold float64 `json:"quota_threshold"`

	FolderRetryAttempts int            `json:"folder_retry_attempts"`
	FolderRetryDelay    timex.Duration `json:"folder_retry_delay"`
	QueueAttempts       int            `json:"queue_attempts"`
	QueueBaseDelay      timex.Duration `json:"queue_base_delay"`
	QueueMaxDelay       timex.Duration `json:"queue_max_delay"`

	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`
	LogBackend string `json:"log_backend"`
	LogFile    string `json:"log_file"`

	StatusAddr string `json:"status_addr"`
	InboxDir   string `json:"inbox_dir"`

	S3Bucket    string `json:"s3_bucket"`
	S3Region    string `json:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`

	SurveyID int64 `json:"survey_id"`
}

// parseJSON overlays Config with values loaded from the file named by -c or
// -config. Without either flag it does nothing.
func parseJSON(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JSONConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.ServerURL, jc.ServerURL)
	setDuration(&cfg.RequestTimeout, jc.RequestTimeout)
	setString(&cfg.DBPath, jc.DBPath)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.HealthTimeout, jc.HealthTimeout)
	setDuration(&cfg.StatusInterval, jc.StatusInterval)
	setInt64(&cfg.MaxPhotoSize, jc.MaxPhotoSize)
	setInt64(&cfg.StorageQuota, jc.StorageQuota)
	if jc.QuotaThreshold > 0 {
		cfg.QuotaThreshold = jc.QuotaThreshold
	}
	if jc.FolderRetryAttempts > 0 {
		cfg.FolderRetryAttempts = jc.FolderRetryAttempts
	}
	setDuration(&cfg.FolderRetryDelay, jc.FolderRetryDelay)
	if jc.QueueAttempts > 0 {
		cfg.QueueAttempts = jc.QueueAttempts
	}
	setDuration(&cfg.QueueBaseDelay, jc.QueueBaseDelay)
	setDuration(&cfg.QueueMaxDelay, jc.QueueMaxDelay)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.LogBackend, jc.LogBackend)
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.StatusAddr, jc.StatusAddr)
	setString(&cfg.InboxDir, jc.InboxDir)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setInt64(&cfg.SurveyID, jc.SurveyID)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, v int64) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
