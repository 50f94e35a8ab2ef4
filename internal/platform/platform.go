// Package platform detects the host environment so callers can pick the
// right external tool, mainly for clipboard access.
package platform

import (
	"os"
	"runtime"
	"strings"
	"sync"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL     Platform = "wsl"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the current platform, caching the result.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detectPlatform()
	})
	return detected
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		if isWSL() {
			return PlatformWSL
		}
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// isWSL checks for the WSL environment variable and /proc/version
// signatures.
func isWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	v := strings.ToLower(string(procVersion))
	return strings.Contains(v, "microsoft")
}
