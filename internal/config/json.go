package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/flagx"
	"github.com/dmitrijs2005/gophjournal/internal/timex"
)

// JsonConfig is the on-disk DTO. Pointer and zero-value fields that are
// absent from the file leave the corresponding Config field untouched.
type JsonConfig struct {
	SessionDuration               *timex.Duration `json:"session_duration"`
	MaxSessionLifetime            *timex.Duration `json:"max_session_lifetime"`
	DefaultExtension              *timex.Duration `json:"default_extension"`
	ExtensionPolicy               string          `json:"extension_policy"`
	MaxSessions                   *int            `json:"max_sessions"`
	SweepInterval                 *timex.Duration `json:"sweep_interval"`
	CountdownInterval             *timex.Duration `json:"countdown_interval"`
	WarningThreshold              *timex.Duration `json:"warning_threshold"`
	CriticalThreshold             *timex.Duration `json:"critical_threshold"`
	SessionAgeCeiling             *timex.Duration `json:"session_age_ceiling"`
	FailedProofThreshold          *int            `json:"failed_proof_threshold"`
	FailedProofWindow             *timex.Duration `json:"failed_proof_window"`
	RequireFingerprintForEnhanced *bool           `json:"require_fingerprint_for_enhanced"`
	KDFTime                       *uint32         `json:"kdf_time"`
	KDFMemoryKiB                  *uint32         `json:"kdf_memory_kib"`
	KDFThreads                    *uint8          `json:"kdf_threads"`
	StorageBackend                string          `json:"storage_backend"`
	DatabaseDSN                   string          `json:"database_dsn"`
	S3Bucket                      string          `json:"s3_bucket"`
	S3Region                      string          `json:"s3_region"`
	S3BaseEndpoint                string          `json:"s3_base_endpoint"`
	S3AccessKey                   string          `json:"s3_access_key"`
	S3SecretKey                   string          `json:"s3_secret_key"`
	RedisAddr                     string          `json:"redis_addr"`
	DeviceFingerprint             string          `json:"device_fingerprint"`
	LogLevel                      string          `json:"log_level"`
}

// parseJson loads the file named by -c/-config (if any) and overlays it onto
// config. An unreadable or malformed file panics: starting with a silently
// half-applied security policy is worse than not starting.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigPath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setDuration(&config.SessionDuration, c.SessionDuration)
	setDuration(&config.MaxSessionLifetime, c.MaxSessionLifetime)
	setDuration(&config.DefaultExtension, c.DefaultExtension)
	setDuration(&config.SweepInterval, c.SweepInterval)
	setDuration(&config.CountdownInterval, c.CountdownInterval)
	setDuration(&config.WarningThreshold, c.WarningThreshold)
	setDuration(&config.CriticalThreshold, c.CriticalThreshold)
	setDuration(&config.SessionAgeCeiling, c.SessionAgeCeiling)
	setDuration(&config.FailedProofWindow, c.FailedProofWindow)

	if c.ExtensionPolicy != "" {
		config.ExtensionPolicy = ExtensionPolicy(c.ExtensionPolicy)
	}
	if c.MaxSessions != nil {
		config.MaxSessions = *c.MaxSessions
	}
	if c.FailedProofThreshold != nil {
		config.FailedProofThreshold = *c.FailedProofThreshold
	}
	if c.RequireFingerprintForEnhanced != nil {
		config.RequireFingerprintForEnhanced = *c.RequireFingerprintForEnhanced
	}
	if c.KDFTime != nil {
		config.KDFTime = *c.KDFTime
	}
	if c.KDFMemoryKiB != nil {
		config.KDFMemoryKiB = *c.KDFMemoryKiB
	}
	if c.KDFThreads != nil {
		config.KDFThreads = *c.KDFThreads
	}

	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.DeviceFingerprint, c.DeviceFingerprint)
	setString(&config.LogLevel, c.LogLevel)
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

func setString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}
