// SPDX-License-Identifier: AGPL-3.0-or-later

// Package paths centralises runsync data-directory resolution.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
)

const (
	appDirName      = "runsync"
	envDataDir      = "DATA_DIR"
	envXDGDataHome  = "XDG_DATA_HOME"
	envLocalAppData = "LOCALAPPDATA"
	journalFileName = "runsync.db"
)

var override atomic.Pointer[string]

// SetDataDirOverride pins the data directory to an explicit location (the
// --data_dir flag). Passing an empty string clears the override.
func SetDataDirOverride(dir string) {
	if dir == "" {
		override.Store(nil)
		return
	}
	clean := filepath.Clean(dir)
	override.Store(&clean)
}

// DataDir returns the directory runsync uses for its local journal.
// Order of precedence:
//  1. Explicit override provided via SetDataDirOverride.
//  2. DATA_DIR environment variable.
//  3. Platform defaults:
//     * POSIX: $XDG_DATA_HOME/runsync, or ~/.local/share/runsync
//     * Windows: %LOCALAPPDATA%\runsync
//  4. Fallback: ./runsync in the working directory.
func DataDir() string {
	if ptr := override.Load(); ptr != nil && *ptr != "" {
		return *ptr
	}

	if dir := os.Getenv(envDataDir); dir != "" {
		return filepath.Clean(dir)
	}

	if runtime.GOOS == "windows" {
		if base := os.Getenv(envLocalAppData); base != "" {
			return filepath.Join(base, appDirName)
		}
	}

	if xdg := os.Getenv(envXDGDataHome); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", appDirName)
	}

	if cwd, err := os.Getwd(); err == nil && cwd != "" {
		return filepath.Join(cwd, appDirName)
	}

	return filepath.Join(os.TempDir(), appDirName)
}

// JournalPath returns the location of the SQLite tick journal inside dir, or
// inside DataDir when dir is empty.
func JournalPath(dir string) string {
	if dir == "" {
		dir = DataDir()
	}
	return filepath.Join(dir, journalFileName)
}
