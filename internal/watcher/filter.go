package watcher

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const defaultFilter = "*.*"

// NotifyFilter selects the kinds of changes a Source reports.
type NotifyFilter uint32

const (
	NotifyFileName NotifyFilter = 1 << iota
	NotifyDirectoryName
	NotifyAttributes
	NotifySize
	NotifyLastWrite
	NotifyLastAccess
	NotifyCreationTime
	NotifySecurity
)

// DefaultNotifyFilter matches the platform default of LastWrite, FileName and
// DirectoryName.
const DefaultNotifyFilter = NotifyLastWrite | NotifyFileName | NotifyDirectoryName

var notifyFilterNames = []struct {
	name  string
	value NotifyFilter
}{
	{"FileName", NotifyFileName},
	{"DirectoryName", NotifyDirectoryName},
	{"Attributes", NotifyAttributes},
	{"Size", NotifySize},
	{"LastWrite", NotifyLastWrite},
	{"LastAccess", NotifyLastAccess},
	{"CreationTime", NotifyCreationTime},
	{"Security", NotifySecurity},
}

// ParseNotifyFilter parses names such as "LastWrite|FileName". Separators may
// be '|' or ','. An empty value yields DefaultNotifyFilter.
func ParseNotifyFilter(value string) (NotifyFilter, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultNotifyFilter, nil
	}
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == '|' || r == ','
	})
	var filter NotifyFilter
	for _, part := range parts {
		name := strings.TrimSpace(part)
		matched := false
		for _, candidate := range notifyFilterNames {
			if strings.EqualFold(candidate.name, name) {
				filter |= candidate.value
				matched = true
				break
			}
		}
		if !matched {
			return 0, fmt.Errorf("unknown notify filter %q", name)
		}
	}
	return filter, nil
}

func (filter NotifyFilter) String() string {
	names := make([]string, 0, len(notifyFilterNames))
	for _, candidate := range notifyFilterNames {
		if filter&candidate.value != 0 {
			names = append(names, candidate.name)
		}
	}
	return strings.Join(names, "|")
}

// Has reports whether any bit of flag is set.
func (filter NotifyFilter) Has(flag NotifyFilter) bool {
	return filter&flag != 0
}

// allowsName reports whether create/delete/rename of an entry is reported.
func (filter NotifyFilter) allowsName(isDir bool) bool {
	if isDir {
		return filter.Has(NotifyDirectoryName)
	}
	return filter.Has(NotifyFileName)
}

// allowsWrite reports whether content modifications are reported.
func (filter NotifyFilter) allowsWrite() bool {
	return filter.Has(NotifyLastWrite | NotifySize | NotifyCreationTime | NotifyLastAccess)
}

// allowsAttributes reports whether metadata modifications are reported.
func (filter NotifyFilter) allowsAttributes() bool {
	return filter.Has(NotifyAttributes | NotifySecurity)
}

// nameMatcher applies the Filter glob to entry base names.
type nameMatcher struct {
	pattern  string
	matchAll bool
}

// ValidateFilter reports whether pattern is usable as a name filter.
func ValidateFilter(pattern string) error {
	if isMatchAll(pattern) {
		return nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid filter pattern %q", pattern)
	}
	return nil
}

func newNameMatcher(pattern string) nameMatcher {
	pattern = strings.TrimSpace(pattern)
	return nameMatcher{pattern: pattern, matchAll: isMatchAll(pattern)}
}

// isMatchAll treats "*.*" like the platform does: every name matches,
// including names without an extension.
func isMatchAll(pattern string) bool {
	switch strings.TrimSpace(pattern) {
	case "", "*", defaultFilter, "**":
		return true
	default:
		return false
	}
}

func (matcher nameMatcher) match(path string) bool {
	if matcher.matchAll {
		return true
	}
	matched, err := doublestar.Match(matcher.pattern, filepath.Base(path))
	if err != nil {
		return false
	}
	return matched
}
