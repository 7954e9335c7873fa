package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"filewatch/internal/config/yamlkeys"
	"filewatch/internal/logging"
	"filewatch/internal/watcher"
)

type Settings struct {
	Watch  WatchSettings
	Server ServerSettings
	Log    LogSettings
}

type WatchSettings struct {
	Path          string
	Filter        string
	NotifyFilter  string
	Recursive     bool
	Debounce      time.Duration
	SpamThreshold time.Duration
	Backend       string
}

type ServerSettings struct {
	Addr           string
	AuthToken      string
	AllowedOrigins []string
	HistorySize    int64
}

type LogSettings struct {
	Level      string
	Format     string
	BufferSize int64
}

// LoadSettings layers the defaults payload, the YAML file at path (when it
// exists) and overrides keyed by dotted names such as "watch.debounce".
func LoadSettings(path string, defaultsPayload []byte, overrides map[string]any) (Settings, error) {
	defaultsStore, err := yamlkeys.Decode(defaultsPayload)
	if err != nil {
		return Settings{}, fmt.Errorf("decode default settings: %w", err)
	}
	defaults := defaultsStore.Flat()
	values := defaultsStore.Flat()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, err
			}
		} else {
			store, err := yamlkeys.Decode(payload)
			if err != nil {
				return Settings{}, fmt.Errorf("decode %s: %w", path, err)
			}
			for key, value := range store.Flat() {
				values[key] = value
			}
		}
	}

	for key, value := range overrides {
		normalized := yamlkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	settings := Settings{}

	settings.Watch.Path = stringSetting(values, "watch.path", "")
	settings.Watch.Filter = stringSetting(values, "watch.filter", "")
	settings.Watch.NotifyFilter = stringSetting(values, "watch.notify-filter", "")
	settings.Watch.Recursive = boolSetting(values, "watch.recursive", boolSetting(defaults, "watch.recursive", false))
	settings.Watch.Debounce, err = durationSetting(values, "watch.debounce")
	if err != nil {
		return Settings{}, err
	}
	settings.Watch.SpamThreshold, err = durationSetting(values, "watch.spam-threshold")
	if err != nil {
		return Settings{}, err
	}
	settings.Watch.Backend = stringSetting(values, "watch.backend", "")

	settings.Server.Addr = stringSetting(values, "server.addr", "")
	settings.Server.AuthToken = stringSetting(values, "server.auth-token", "")
	settings.Server.AllowedOrigins = stringsSetting(values, "server.allowed-origins")
	settings.Server.HistorySize = intSetting(values, "server.history-size", 0)

	settings.Log.Level = stringSetting(values, "log.level", "")
	settings.Log.Format = stringSetting(values, "log.format", "")
	settings.Log.BufferSize = intSetting(values, "log.buffer-size", 0)

	return normalizeSettings(settings, defaults), nil
}

func normalizeSettings(settings Settings, defaults map[string]any) Settings {
	if settings.Watch.Filter == "" {
		settings.Watch.Filter = stringSetting(defaults, "watch.filter", "")
	}
	if settings.Watch.NotifyFilter == "" {
		settings.Watch.NotifyFilter = stringSetting(defaults, "watch.notify-filter", "")
	}
	if settings.Watch.Debounce <= 0 {
		settings.Watch.Debounce, _ = durationSetting(defaults, "watch.debounce")
	}
	if settings.Watch.SpamThreshold <= 0 {
		settings.Watch.SpamThreshold, _ = durationSetting(defaults, "watch.spam-threshold")
	}
	if settings.Watch.Backend == "" {
		settings.Watch.Backend = stringSetting(defaults, "watch.backend", "")
	}
	if settings.Server.Addr == "" {
		settings.Server.Addr = stringSetting(defaults, "server.addr", "")
	}
	if settings.Server.HistorySize <= 0 {
		settings.Server.HistorySize = intSetting(defaults, "server.history-size", 0)
	}
	if settings.Log.Level == "" {
		settings.Log.Level = stringSetting(defaults, "log.level", "")
	}
	if settings.Log.Format == "" {
		settings.Log.Format = stringSetting(defaults, "log.format", "")
	}
	if settings.Log.BufferSize <= 0 {
		settings.Log.BufferSize = intSetting(defaults, "log.buffer-size", 0)
	}
	return settings
}

// Validate reports every invalid value at once.
func (settings Settings) Validate() error {
	var errs []error
	if err := watcher.ValidateFilter(settings.Watch.Filter); err != nil {
		errs = append(errs, fmt.Errorf("watch.filter: %w", err))
	}
	if _, err := watcher.ParseNotifyFilter(settings.Watch.NotifyFilter); err != nil {
		errs = append(errs, fmt.Errorf("watch.notify-filter: %w", err))
	}
	switch strings.ToLower(settings.Watch.Backend) {
	case "", watcher.BackendFSNotify, watcher.BackendFSEvents:
	default:
		errs = append(errs, fmt.Errorf("watch.backend: unknown backend %q", settings.Watch.Backend))
	}
	if settings.Watch.Debounce <= 0 {
		errs = append(errs, errors.New("watch.debounce: must be > 0"))
	}
	if settings.Watch.SpamThreshold <= 0 {
		errs = append(errs, errors.New("watch.spam-threshold: must be > 0"))
	}
	if settings.Server.HistorySize <= 0 {
		errs = append(errs, errors.New("server.history-size: must be > 0"))
	}
	if _, ok := logging.ParseLevel(settings.Log.Level); !ok {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", settings.Log.Level))
	}
	if _, ok := logging.ParseFormat(settings.Log.Format); !ok {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", settings.Log.Format))
	}
	if settings.Log.BufferSize <= 0 {
		errs = append(errs, errors.New("log.buffer-size: must be > 0"))
	}
	return errors.Join(errs...)
}

func intSetting(values map[string]any, key string, fallback int64) int64 {
	value, ok := values[yamlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := yamlkeys.AsInt64(value); ok {
		return parsed
	}
	return fallback
}

func stringSetting(values map[string]any, key string, fallback string) string {
	value, ok := values[yamlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := value.(string); ok {
		return strings.TrimSpace(parsed)
	}
	return fallback
}

func boolSetting(values map[string]any, key string, fallback bool) bool {
	value, ok := values[yamlkeys.NormalizeKey(key)]
	if !ok {
		return fallback
	}
	if parsed, ok := value.(bool); ok {
		return parsed
	}
	return fallback
}

func stringsSetting(values map[string]any, key string) []string {
	value, ok := values[yamlkeys.NormalizeKey(key)]
	if !ok || value == nil {
		return nil
	}
	parsed, ok := yamlkeys.AsStrings(value)
	if !ok || len(parsed) == 0 {
		return nil
	}
	return parsed
}

// durationSetting accepts Go duration strings or a bare integer of
// milliseconds. A missing key yields zero.
func durationSetting(values map[string]any, key string) (time.Duration, error) {
	value, ok := values[yamlkeys.NormalizeKey(key)]
	if !ok || value == nil {
		return 0, nil
	}
	switch typed := value.(type) {
	case time.Duration:
		return typed, nil
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, nil
		}
		parsed, err := time.ParseDuration(trimmed)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return parsed, nil
	}
	if millis, ok := yamlkeys.AsInt64(value); ok {
		return time.Duration(millis) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("%s: unsupported value %v", key, value)
}

// WatcherOptions converts the watch section into watcher options. Logger,
// metrics, source and clock are left for the caller.
func (settings Settings) WatcherOptions(path string) (watcher.Options, error) {
	notifyFilter, err := watcher.ParseNotifyFilter(settings.Watch.NotifyFilter)
	if err != nil {
		return watcher.Options{}, err
	}
	if strings.TrimSpace(path) == "" {
		path = settings.Watch.Path
	}
	return watcher.Options{
		FolderPath:            path,
		Filter:                settings.Watch.Filter,
		NotifyFilter:          notifyFilter,
		IncludeSubdirectories: settings.Watch.Recursive,
		Debounce:              settings.Watch.Debounce,
		SpamThreshold:         settings.Watch.SpamThreshold,
	}, nil
}
