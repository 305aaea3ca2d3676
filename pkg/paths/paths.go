package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const EnvWinkyHome = "WINKY_HOME"

// WinkyHomeDir resolves the base directory for all local state (config,
// database, logs). Overridable for tests and portable installs.
func WinkyHomeDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvWinkyHome)); dir != "" {
		return filepath.Clean(expandHomePath(dir))
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".winky"
	}
	return filepath.Join(home, ".winky")
}

func ConfigFile() string {
	return filepath.Join(WinkyHomeDir(), "config.yaml")
}

func DatabaseFile() string {
	return filepath.Join(WinkyHomeDir(), "winky.db")
}

func LogsDir() string {
	return filepath.Join(WinkyHomeDir(), "logs")
}

func expandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
