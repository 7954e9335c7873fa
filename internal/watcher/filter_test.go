package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotifyFilter(t *testing.T) {
	filter, err := ParseNotifyFilter("LastWrite|filename, Size")
	require.NoError(t, err)
	assert.Equal(t, NotifyLastWrite|NotifyFileName|NotifySize, filter)
	assert.Equal(t, "FileName|Size|LastWrite", filter.String())

	filter, err = ParseNotifyFilter("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultNotifyFilter, filter)

	_, err = ParseNotifyFilter("LastWrite|Bogus")
	assert.ErrorContains(t, err, "Bogus")
}

func TestNotifyFilterGates(t *testing.T) {
	filter := NotifyFileName | NotifyAttributes
	assert.True(t, filter.allowsName(false))
	assert.False(t, filter.allowsName(true))
	assert.False(t, filter.allowsWrite())
	assert.True(t, filter.allowsAttributes())

	assert.True(t, DefaultNotifyFilter.allowsWrite())
	assert.True(t, DefaultNotifyFilter.allowsName(true))
	assert.False(t, DefaultNotifyFilter.allowsAttributes())
}

func TestNameMatcher(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.*", "/w/Makefile", true},
		{"", "/w/a.txt", true},
		{"*.log", "/w/sub/app.log", true},
		{"*.log", "/w/sub/app.txt", false},
		{"app-?.txt", "/w/app-1.txt", true},
		{"{a,b}.md", "/w/c.md", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, newNameMatcher(tc.pattern).match(tc.path), "%s ~ %s", tc.pattern, tc.path)
	}
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter("*.*"))
	assert.NoError(t, ValidateFilter("*.go"))
	assert.Error(t, ValidateFilter("[abc"))
}
