package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/gophjournal/internal/flagx"
)

var ownFlags = []string{"-s", "-m", "-x", "-p", "-n", "-w", "-f", "-b", "-d", "-r", "-g", "-l"}

// parseFlags overlays command-line flags onto config. Durations are given
// in whole minutes (seconds for -w). Invalid flags panic, mirroring how the
// JSON layer treats an unreadable file.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	sessionMinutes := fs.Int("s", int(config.SessionDuration.Minutes()), "session duration (minutes)")
	lifetimeMinutes := fs.Int("m", int(config.MaxSessionLifetime.Minutes()), "maximum session lifetime (minutes)")
	extensionMinutes := fs.Int("x", int(config.DefaultExtension.Minutes()), "default extension (minutes)")
	policy := fs.String("p", string(config.ExtensionPolicy), "extension policy: truncate | reject")
	fs.IntVar(&config.MaxSessions, "n", config.MaxSessions, "maximum concurrent sessions")
	sweepSeconds := fs.Int("w", int(config.SweepInterval.Seconds()), "sweep interval (seconds)")
	fs.IntVar(&config.FailedProofThreshold, "f", config.FailedProofThreshold, "failed proof threshold")
	fs.StringVar(&config.StorageBackend, "b", config.StorageBackend, "storage backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.DeviceFingerprint, "g", config.DeviceFingerprint, "device fingerprint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(flagx.FilterArgs(args, ownFlags)); err != nil {
		panic(err)
	}

	// Durations are only overwritten when given explicitly, so sub-minute
	// values from JSON survive.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "s":
			config.SessionDuration = time.Duration(*sessionMinutes) * time.Minute
		case "m":
			config.MaxSessionLifetime = time.Duration(*lifetimeMinutes) * time.Minute
		case "x":
			config.DefaultExtension = time.Duration(*extensionMinutes) * time.Minute
		case "p":
			config.ExtensionPolicy = ExtensionPolicy(*policy)
		case "w":
			config.SweepInterval = time.Duration(*sweepSeconds) * time.Second
		}
	})
}
