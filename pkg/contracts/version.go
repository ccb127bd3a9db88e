// Package contracts holds the version contract shared by the export server
// and its command line client.
package contracts

import (
	"fmt"
	"runtime"
)

const (
	// APIVersion is the version of the HTTP and WebSocket contract
	APIVersion = "v1"

	// WorkbookFormat is the format of produced export files
	WorkbookFormat = "xlsx"
)

var (
	// Version is set during build using ldflags
	Version = "0.1.0-dev"

	// BuildTime is set during build using ldflags
	BuildTime = "unknown"

	// GitCommit is set during build using ldflags
	GitCommit = "unknown"
)

// VersionInfo contains detailed version information
type VersionInfo struct {
	Version      string `json:"version"`
	BuildTime    string `json:"build_time"`
	GitCommit    string `json:"git_commit"`
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	APIVersion   string `json:"api_version"`
}

// GetVersionInfo returns detailed version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:      Version,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		APIVersion:   APIVersion,
	}
}

// GetVersionString returns a formatted version string for binary name
func GetVersionString(name string) string {
	return fmt.Sprintf("%s v%s", name, Version)
}

// GetFullVersionString returns a detailed version string
func GetFullVersionString(name string) string {
	info := GetVersionInfo()
	return fmt.Sprintf(
		"%s (api: %s, built: %s, commit: %s, go: %s, os: %s/%s)",
		GetVersionString(name),
		info.APIVersion,
		info.BuildTime,
		info.GitCommit,
		info.GoVersion,
		info.OS,
		info.Architecture,
	)
}
