// Package platform provides cross-platform utilities for directory paths,
// binary extensions, and OS-specific operations.
package platform

import (
	"os"
)

// AppName is the application name used for directory naming
const AppName = "genprompt"

// AppDisplayName is the display name used on Windows and macOS
const AppDisplayName = "Genprompt"

// GetDataDir returns the application data directory.
// Windows: %APPDATA%\Genprompt
// Linux: ~/.local/share/genprompt
// Falls back to ~/.genprompt if XDG is not available.
func GetDataDir() string {
	return getDataDir()
}

// GetCacheDir returns the cache directory for downloaded backend bundles.
// Windows: %APPDATA%\Genprompt
// Linux: ~/.cache/genprompt
func GetCacheDir() string {
	return getCacheDir()
}

// BinaryExtension returns the executable file extension for the current platform.
// Windows: ".exe"
// Linux: ""
func BinaryExtension() string {
	return binaryExtension()
}

// EnsureExecutable ensures a file has executable permissions.
// On Windows, this is a no-op.
// On Linux and macOS, this sets the executable bit.
func EnsureExecutable(path string) error {
	return ensureExecutable(path)
}

// UserHomeDir returns the user's home directory with proper fallbacks.
func UserHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
