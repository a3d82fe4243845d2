package filestore

import (
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates the directory and all parents if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// AtomicWrite writes data to filePath via a temporary file + rename.
func AtomicWrite(filePath string, data []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return err
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ResolvePath resolves a storage path, handling ~ expansion and env variables.
// If configured is empty, defaultPath is used.
func ResolvePath(configured, defaultPath string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}
