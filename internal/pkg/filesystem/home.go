package filesystem

import (
	"os"
	"path/filepath"
	"strings"
)

// AppDirName is the per-user directory holding config, history and logs.
const AppDirName = ".sysadvisor"

// UserHomeDir returns the current user's home directory.
// If the home directory cannot be determined, it returns "." as a fallback.
func UserHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// AppPath joins elements under ~/.sysadvisor.
func AppPath(elem ...string) string {
	return filepath.Join(append([]string{UserHomeDir(), AppDirName}, elem...)...)
}

// ExpandPath resolves "~/" prefixes and cleans the result.
// Relative paths stay relative to the working directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		return UserHomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(UserHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
