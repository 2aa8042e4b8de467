package config

import (
	"os"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/cryptox"
)

// ExtensionPolicy decides what happens when an extension would push a session
// past MaxSessionLifetime.
type ExtensionPolicy string

const (
	// ExtensionTruncate silently caps the new expiry at the lifetime ceiling.
	ExtensionTruncate ExtensionPolicy = "truncate"
	// ExtensionReject fails the extension with common.ErrLifetimeExceeded.
	ExtensionReject ExtensionPolicy = "reject"
)

// Storage backends for encrypted entries.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendMemory   = "memory"
)

// Config holds runtime settings for the journal security core.
//
// Session policy:
//   - SessionDuration: lifetime granted by a successful activation.
//   - MaxSessionLifetime: ceiling on createdAt..expiresAt across extensions.
//   - DefaultExtension: used when an extend call passes no duration.
//   - MaxSessions: concurrent live sessions allowed.
//   - SweepInterval / CountdownInterval: expiry sweep and UI refresh periods.
//
// Health: WarningThreshold, CriticalThreshold (remaining time) and
// SessionAgeCeiling. Abuse detection: FailedProofThreshold failures within
// FailedProofWindow flag suspicious activity.
type Config struct {
	SessionDuration               time.Duration
	MaxSessionLifetime            time.Duration
	DefaultExtension              time.Duration
	ExtensionPolicy               ExtensionPolicy
	MaxSessions                   int
	SweepInterval                 time.Duration
	CountdownInterval             time.Duration
	WarningThreshold              time.Duration
	CriticalThreshold             time.Duration
	SessionAgeCeiling             time.Duration
	FailedProofThreshold          int
	FailedProofWindow             time.Duration
	RequireFingerprintForEnhanced bool

	KDFTime      uint32
	KDFMemoryKiB uint32
	KDFThreads   uint8

	StorageBackend string
	DatabaseDSN    string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3AccessKey    string
	S3SecretKey    string
	RedisAddr      string

	DeviceFingerprint string
	LogLevel          string
}

// LoadDefaults populates Config with settings suitable for a single device.
func (c *Config) LoadDefaults() {
	c.SessionDuration = 15 * time.Minute
	c.MaxSessionLifetime = 4 * time.Hour
	c.DefaultExtension = 15 * time.Minute
	c.ExtensionPolicy = ExtensionTruncate
	c.MaxSessions = 10
	c.SweepInterval = 5 * time.Second
	c.CountdownInterval = time.Second
	c.WarningThreshold = 5 * time.Minute
	c.CriticalThreshold = time.Minute
	c.SessionAgeCeiling = 2 * time.Hour
	c.FailedProofThreshold = 5
	c.FailedProofWindow = 10 * time.Minute
	c.RequireFingerprintForEnhanced = true

	c.KDFTime = cryptox.DefaultKDFParams.Time
	c.KDFMemoryKiB = cryptox.DefaultKDFParams.MemoryKiB
	c.KDFThreads = cryptox.DefaultKDFParams.Threads

	c.StorageBackend = BackendSQLite
	c.DatabaseDSN = "journal.db"
	c.S3Bucket = "journal"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.LogLevel = "info"
}

// KDFParams returns the argon2 parameters configured for phrase derivation.
func (c *Config) KDFParams() cryptox.KDFParams {
	return cryptox.KDFParams{Time: c.KDFTime, MemoryKiB: c.KDFMemoryKiB, Threads: c.KDFThreads}
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	return load(os.Args[1:])
}

func load(args []string) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, args)
	parseFlags(cfg, args)
	return cfg
}
