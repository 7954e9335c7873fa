package yamlkeys

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store holds a decoded YAML document addressed by dotted, normalized keys.
type Store struct {
	raw  map[string]any
	flat map[string]any
}

func (s Store) Flat() map[string]any {
	flat := make(map[string]any, len(s.flat))
	for key, value := range s.flat {
		flat[key] = value
	}
	return flat
}

func DecodeMap(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func Decode(data []byte) (Store, error) {
	raw, err := DecodeMap(data)
	if err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

func FromRaw(raw map[string]any) Store {
	flat := make(map[string]any)
	flattenMap("", raw, flat)

	normalized := make(map[string]any, len(flat))
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if _, exists := normalized[normalizedKey]; exists {
			continue
		}
		normalized[normalizedKey] = flat[key]
	}

	return Store{raw: raw, flat: normalized}
}

func (s Store) GetBool(key string) (bool, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return false, false
	}
	typed, ok := value.(bool)
	return typed, ok
}

func (s Store) GetInt(key string) (int64, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return 0, false
	}
	return AsInt64(value)
}

func (s Store) GetString(key string) (string, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return "", false
	}
	typed, ok := value.(string)
	return typed, ok
}

// GetStrings accepts a YAML sequence of scalars or a comma separated string.
func (s Store) GetStrings(key string) ([]string, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return nil, false
	}
	return AsStrings(value)
}

func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		lowered := strings.ToLower(strings.TrimSpace(part))
		parts[i] = strings.ReplaceAll(lowered, "_", "-")
	}
	return strings.Join(parts, ".")
}

func AsInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case uint:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}

func AsStrings(value any) ([]string, bool) {
	switch typed := value.(type) {
	case []string:
		return append([]string(nil), typed...), true
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			switch item.(type) {
			case map[string]any, []any:
				return nil, false
			}
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	case string:
		out := []string{}
		for _, part := range strings.Split(typed, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, true
	}
	return nil, false
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		flattenValue(joinKey(prefix, key), value, out)
	}
}

func flattenValue(key string, value any, out map[string]any) {
	switch typed := value.(type) {
	case map[string]any:
		flattenMap(key, typed, out)
	case map[any]any:
		for nestedKey, nested := range typed {
			flattenValue(joinKey(key, fmt.Sprint(nestedKey)), nested, out)
		}
	default:
		out[key] = value
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
