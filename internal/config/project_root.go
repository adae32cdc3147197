package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveWorkspaceRoot returns the absolute directory a workspace's
// scratchpad, storage, and checkpoint files should live under.
// Preference order:
//  1. An explicit CHORUS_WORKSPACE_ROOT override
//  2. The current working directory
func ResolveWorkspaceRoot() string {
	if root := expandHomeDir(strings.TrimSpace(os.Getenv("CHORUS_WORKSPACE_ROOT"))); root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			return abs
		}
		return root
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
