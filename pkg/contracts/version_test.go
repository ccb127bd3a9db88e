package contracts

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, APIVersion, info.APIVersion)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.OS)
}

func TestVersionStrings(t *testing.T) {
	assert.Equal(t, "exportd v"+Version, GetVersionString("exportd"))

	full := GetFullVersionString("exportctl")
	assert.Contains(t, full, "exportctl v"+Version)
	assert.Contains(t, full, "api: "+APIVersion)
	assert.Contains(t, full, runtime.GOOS+"/"+runtime.GOARCH)
}
