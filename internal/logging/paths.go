package logging

import (
	"os"
	"path/filepath"
)

// HomeEnvVar overrides the memcore home directory (spec §6 environment
// variables: MEMORY_MCP_HOME).
const HomeEnvVar = "MEMORY_MCP_HOME"

// Home returns the memcore home directory, honoring MEMORY_MCP_HOME and
// expanding ~ the way the rest of the configuration surface does.
func Home() string {
	if v := os.Getenv(HomeEnvVar); v != "" {
		return ExpandHome(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".memcore")
	}
	return filepath.Join(home, ".memcore")
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || len(path) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultLogDir returns the default log directory (<home>/logs).
func DefaultLogDir() string {
	return filepath.Join(Home(), "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "memcore.log")
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	return os.MkdirAll(DefaultLogDir(), 0o755)
}
