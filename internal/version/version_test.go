package version

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, runtime.GOOS)
	assert.Contains(t, info.Platform, runtime.GOARCH)
}

func TestString(t *testing.T) {
	s := String()
	assert.Contains(t, s, ApplicationName)
	assert.Contains(t, s, "version")
}

func TestShort(t *testing.T) {
	originalVersion, originalCommit := Version, Commit
	defer func() { Version, Commit = originalVersion, originalCommit }()

	Version = "1.2.3"
	Commit = "unknown"
	assert.Equal(t, "1.2.3", Short())

	Commit = "0123456789abcdef"
	assert.Equal(t, "1.2.3 (01234567)", Short())
}

func TestJSON(t *testing.T) {
	var info Info
	require.NoError(t, json.Unmarshal([]byte(JSON()), &info))
	assert.Equal(t, Version, info.Version)
}

func TestUserAgent(t *testing.T) {
	assert.True(t, strings.HasPrefix(UserAgent(), ApplicationName+"/"))
}
