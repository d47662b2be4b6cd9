// Package config resolves the daemon's environment-driven settings into a
// single struct, detected once at startup by a Detect function with
// documented env-var overrides, and shared as a package-level value
// (Runtime). It resolves the socket path, scrollback cap, idle-session
// timeout and sweep interval.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pilotty/pilotty/internal/logger"
)

const (
	defaultScrollbackLines = 1000
	defaultIdleTimeout     = 5 * time.Minute
	defaultSweepInterval   = 250 * time.Millisecond
)

// Config holds the daemon's runtime settings, detected once from the
// environment and shared as a package-level value (Runtime).
type Config struct {
	// SocketDir is the directory holding the daemon's Unix domain socket
	// and its single-instance lock file, created with mode 0700.
	SocketDir string
	// SocketPath is SocketDir/pilotty.sock.
	SocketPath string
	// LockPath is SocketDir/pilotty.lock, used by gofrs/flock.
	LockPath string

	// ScrollbackLines bounds each session's retained scrollback.
	ScrollbackLines int
	// IdleTimeout is how long a session may go without PTY activity (no
	// input written and no output read) before the registry kills it.
	IdleTimeout time.Duration
	// SweepInterval is how often the registry sweeps for defunct/idle
	// sessions.
	SweepInterval time.Duration

	// Dev enables pretty console logging instead of JSON.
	Dev bool
}

// Runtime is the global, detect-once configuration instance.
var Runtime *Config

func init() {
	Runtime = Detect()
}

// Detect resolves Config from the environment, applying documented
// defaults for anything unset.
func Detect() *Config {
	dir := socketDir()

	cfg := &Config{
		SocketDir:       dir,
		SocketPath:      filepath.Join(dir, "pilotty.sock"),
		LockPath:        filepath.Join(dir, "pilotty.lock"),
		ScrollbackLines: envInt("PILOTTY_SCROLLBACK", defaultScrollbackLines),
		IdleTimeout:     envDuration("PILOTTY_IDLE_TIMEOUT", defaultIdleTimeout),
		SweepInterval:   envDuration("PILOTTY_SWEEP_INTERVAL", defaultSweepInterval),
		Dev:             os.Getenv("PILOTTY_DEV") == "1" || os.Getenv("PILOTTY_DEV") == "true",
	}

	if err := ensureDir(cfg.SocketDir); err != nil {
		logger.Warnf("failed to create socket directory %s: %v", cfg.SocketDir, err)
	}

	return cfg
}

// socketDir resolves the directory that holds the socket and lock file:
// $PILOTTY_SOCKET_DIR if set, else $XDG_RUNTIME_DIR/pilotty, else
// ~/.pilotty, else (no resolvable home directory) <tmpdir>/pilotty.
func socketDir() string {
	if d := os.Getenv("PILOTTY_SOCKET_DIR"); d != "" {
		return d
	}
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "pilotty")
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "pilotty")
	}
	return filepath.Join(home, ".pilotty")
}

// ensureDir creates a directory (mode 0700: the socket and lock file
// inside it are session-local, not meant to be group/world readable) if
// it doesn't already exist.
func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0o700)
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		logger.Warnf("ignoring invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		logger.Warnf("ignoring invalid %s=%q, using default %s", key, v, def)
		return def
	}
	return d
}
