// Package version carries the build identity stamped into the pomelo binary.
package version

import "runtime"

// Set at build time via -ldflags "-X github.com/pomelolab/pomelo/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Info returns the build identity plus the Go runtime it was compiled with.
func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"built":   BuildDate,
		"go":      runtime.Version(),
		"os/arch": runtime.GOOS + "/" + runtime.GOARCH,
	}
}
