package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func setVersion(t *testing.T, version, major, minor, patch, built, commit string) {
	t.Helper()
	previous := []string{Version, Major, Minor, Patch, Built, GitCommit}
	Version, Major, Minor, Patch, Built, GitCommit = version, major, minor, patch, built, commit
	t.Cleanup(func() {
		Version, Major, Minor, Patch, Built, GitCommit = previous[0], previous[1], previous[2], previous[3], previous[4], previous[5]
	})
}

func TestGetVersionInfo(t *testing.T) {
	setVersion(t, "1.2.3", "1", "2", "3", "2026-01-11T12:34:56Z", "abc123")

	info := GetVersionInfo()
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, []int{1, 2, 3}, []int{info.Major, info.Minor, info.Patch})
	assert.Equal(t, "2026-01-11T12:34:56Z", info.Built)
	assert.Equal(t, "abc123", info.GitCommit)
}

func TestGetVersionInfoIgnoresBadNumbers(t *testing.T) {
	setVersion(t, "dev", "x", "", "4", "", "")

	info := GetVersionInfo()
	assert.Equal(t, 0, info.Major)
	assert.Equal(t, 0, info.Minor)
	assert.Equal(t, 4, info.Patch)
}

func TestDescribe(t *testing.T) {
	setVersion(t, "dev", "0", "0", "0", "", "")
	assert.Equal(t, "filewatch dev", Describe("filewatch"))

	setVersion(t, "1.4.0", "1", "4", "0", "", "")
	assert.Equal(t, "filewatch version 1.4.0", Describe("filewatch"))

	setVersion(t, "1.4.0", "1", "4", "0", "", "deadbeef")
	assert.Equal(t, "filewatch version 1.4.0 (deadbeef)", Describe("filewatch"))
}
