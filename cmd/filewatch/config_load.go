package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"filewatch"
	"filewatch/internal/cli"
	"filewatch/internal/config"
	"filewatch/internal/config/yamlkeys"
	"filewatch/internal/logging"
)

const (
	envPrefix         = "FILEWATCH_"
	defaultConfigFile = "filewatch.yaml"
)

// Config is the resolved configuration of one command invocation.
type Config struct {
	Command     string
	ConfigFile  string
	Settings    config.Settings
	Verbose     bool
	Quiet       bool
	ShowVersion bool
	Sources     map[string]configSource
}

type configSource string

const (
	sourceDefault configSource = "default"
	sourceFile    configSource = "file"
	sourceEnv     configSource = "env"
	sourceFlag    configSource = "flag"
)

type valueKind int

const (
	kindString valueKind = iota
	kindBool
	kindInt
	kindDuration
	kindList
)

// setting ties one settings key to its flag and environment variable.
type setting struct {
	Key   string
	Flag  string
	Kind  valueKind
	Usage string
	Group string
	Serve bool
}

var settingsTable = []setting{
	{Key: "watch.path", Flag: "path", Kind: kindString, Usage: "Folder to watch", Group: "Watch"},
	{Key: "watch.filter", Flag: "filter", Kind: kindString, Usage: "File name glob", Group: "Watch"},
	{Key: "watch.notify-filter", Flag: "notify-filter", Kind: kindString, Usage: "Change kinds, e.g. LastWrite|FileName", Group: "Watch"},
	{Key: "watch.recursive", Flag: "recursive", Kind: kindBool, Usage: "Include subdirectories", Group: "Watch"},
	{Key: "watch.debounce", Flag: "debounce", Kind: kindDuration, Usage: "Quiet period before a burst is delivered", Group: "Watch"},
	{Key: "watch.spam-threshold", Flag: "spam-threshold", Kind: kindDuration, Usage: "Warn when a burst lasts longer than this", Group: "Watch"},
	{Key: "watch.backend", Flag: "backend", Kind: kindString, Usage: "Raw watch backend (fsnotify, fsevents)", Group: "Watch"},
	{Key: "server.addr", Flag: "addr", Kind: kindString, Usage: "HTTP listen address", Group: "Server", Serve: true},
	{Key: "server.auth-token", Flag: "token", Kind: kindString, Usage: "Auth token for REST/WS", Group: "Server", Serve: true},
	{Key: "server.allowed-origins", Flag: "allowed-origins", Kind: kindList, Usage: "Comma separated websocket origins", Group: "Server", Serve: true},
	{Key: "server.history-size", Flag: "history-size", Kind: kindInt, Usage: "Notifications kept for replay", Group: "Server", Serve: true},
	{Key: "log.level", Flag: "log-level", Kind: kindString, Usage: "Minimum log level", Group: "Logging"},
	{Key: "log.format", Flag: "log-format", Kind: kindString, Usage: "Log encoding (console, json)", Group: "Logging"},
	{Key: "log.buffer-size", Flag: "log-buffer-size", Kind: kindInt, Usage: "Log entries kept in memory", Group: "Logging"},
}

func (entry setting) envName() string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(entry.Flag, "-", "_"))
}

type flagValues struct {
	ConfigFile string
	Values     map[string]any
	Path       string
	Verbose    bool
	Quiet      bool
	Help       bool
	Version    bool
	Set        map[string]bool
}

type helpOption struct {
	Name string
	Desc string
}

// loadConfig layers the built-in defaults, the YAML config file, FILEWATCH_*
// environment variables and flags, in that order.
func loadConfig(command string, args []string, out io.Writer) (Config, error) {
	defaultsPayload, err := fs.ReadFile(filewatch.EmbeddedConfigFS, filewatch.DefaultConfigPath)
	if err != nil {
		return Config{}, fmt.Errorf("read default settings: %w", err)
	}
	defaults, err := config.LoadSettings("", defaultsPayload, nil)
	if err != nil {
		return Config{}, err
	}

	flags, err := parseFlags(command, args, defaults, out)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Command: command,
		Verbose: flags.Verbose,
		Quiet:   flags.Quiet,
		Sources: make(map[string]configSource),
	}
	if flags.Version {
		cfg.ShowVersion = true
		return cfg, nil
	}

	configFile := defaultConfigFile
	configSourceKind := sourceDefault
	if raw := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG")); raw != "" {
		configFile = raw
		configSourceKind = sourceEnv
	}
	if flags.Set["config"] {
		trimmed := strings.TrimSpace(flags.ConfigFile)
		if trimmed == "" {
			return Config{}, errors.New("invalid --config: value cannot be empty")
		}
		configFile = trimmed
		configSourceKind = sourceFlag
	}
	cfg.ConfigFile = configFile
	cfg.Sources["config"] = configSourceKind

	fileKeys, err := configFileKeys(configFile)
	if err != nil {
		return Config{}, err
	}
	if configSourceKind != sourceDefault && fileKeys == nil {
		return Config{}, fmt.Errorf("config file %s not found", configFile)
	}

	overrides := make(map[string]any)
	for _, entry := range settingsTable {
		source := sourceDefault
		if fileKeys[entry.Key] {
			source = sourceFile
		}
		if raw, ok := os.LookupEnv(entry.envName()); ok {
			if value, err := parseValue(entry.Kind, raw); err == nil {
				overrides[entry.Key] = value
				source = sourceEnv
			}
		}
		if flags.Set[entry.Flag] {
			overrides[entry.Key] = flags.Values[entry.Flag]
			source = sourceFlag
		}
		cfg.Sources[entry.Key] = source
	}
	if flags.Path != "" {
		overrides["watch.path"] = flags.Path
		cfg.Sources["watch.path"] = sourceFlag
	}

	settings, err := config.LoadSettings(configFile, defaultsPayload, overrides)
	if err != nil {
		return Config{}, err
	}
	if err := settings.Validate(); err != nil {
		return Config{}, err
	}
	if settings.Watch.Path == "" {
		return Config{}, errors.New("a folder to watch is required")
	}
	cfg.Settings = settings
	return cfg, nil
}

// configFileKeys reports which settings keys the file sets. A missing file
// yields nil.
func configFileKeys(path string) (map[string]bool, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	store, err := yamlkeys.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	keys := make(map[string]bool)
	for key := range store.Flat() {
		keys[key] = true
	}
	return keys, nil
}

func parseValue(kind valueKind, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	switch kind {
	case kindBool:
		return strconv.ParseBool(trimmed)
	case kindInt:
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, err
		}
		if parsed <= 0 {
			return nil, errors.New("must be > 0")
		}
		return parsed, nil
	case kindDuration:
		parsed, err := time.ParseDuration(trimmed)
		if err != nil {
			return nil, err
		}
		if parsed <= 0 {
			return nil, errors.New("must be > 0")
		}
		return parsed, nil
	default:
		if trimmed == "" {
			return nil, errors.New("value cannot be empty")
		}
		return trimmed, nil
	}
}

func parseFlags(command string, args []string, defaults config.Settings, out io.Writer) (flagValues, error) {
	if args == nil {
		args = []string{}
	}
	flagSet := flag.NewFlagSet("filewatch "+command, flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	configFile := flagSet.String("config", defaultConfigFile, "YAML config file")
	raw := make(map[string]*string)
	bools := make(map[string]*bool)
	for _, entry := range commandSettings(command) {
		if entry.Kind == kindBool {
			bools[entry.Flag] = flagSet.Bool(entry.Flag, false, entry.Usage)
			continue
		}
		raw[entry.Flag] = flagSet.String(entry.Flag, "", entry.Usage)
	}
	verbose := flagSet.Bool("verbose", false, "Enable verbose logging")
	quiet := flagSet.Bool("quiet", false, "Reduce logging to warnings")
	helpVersion := cli.AddHelpVersionFlags(flagSet, "Show help", "Print version and exit")

	flagSet.Usage = func() {
		printHelp(out, command, defaults)
	}

	var positional []string
	rest := args
	for {
		if err := flagSet.Parse(rest); err != nil {
			return flagValues{}, err
		}
		rest = flagSet.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}

	flags := flagValues{
		ConfigFile: *configFile,
		Values:     make(map[string]any),
		Verbose:    *verbose,
		Quiet:      *quiet,
		Help:       helpVersion.Help,
		Version:    helpVersion.Version,
		Set:        cli.SetFlags(flagSet),
	}

	if flags.Help {
		flagSet.Usage()
		return flags, flag.ErrHelp
	}
	if len(positional) > 1 {
		return flagValues{}, fmt.Errorf("expected one folder, got %d", len(positional))
	}
	if len(positional) == 1 {
		flags.Path = strings.TrimSpace(positional[0])
	}

	for _, entry := range commandSettings(command) {
		if !flags.Set[entry.Flag] {
			continue
		}
		if entry.Kind == kindBool {
			flags.Values[entry.Flag] = *bools[entry.Flag]
			continue
		}
		value, err := parseValue(entry.Kind, *raw[entry.Flag])
		if err != nil {
			return flagValues{}, fmt.Errorf("invalid --%s: %w", entry.Flag, err)
		}
		flags.Values[entry.Flag] = value
	}

	return flags, nil
}

// commandSettings returns the settings a command accepts as flags. Server
// settings only apply to serve.
func commandSettings(command string) []setting {
	entries := make([]setting, 0, len(settingsTable))
	for _, entry := range settingsTable {
		if entry.Serve && command != commandServe {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func printHelp(out io.Writer, command string, defaults config.Settings) {
	if out == nil {
		return
	}
	fmt.Fprintf(out, "Usage: filewatch %s [options] [folder]\n", command)
	fmt.Fprintln(out, "")
	switch command {
	case commandServe:
		fmt.Fprintln(out, "Watch a folder and stream its changes over HTTP and websockets")
	default:
		fmt.Fprintln(out, "Watch a folder and print each change")
	}
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")

	groups := map[string][]helpOption{}
	order := []string{}
	for _, entry := range commandSettings(command) {
		if _, ok := groups[entry.Group]; !ok {
			order = append(order, entry.Group)
		}
		name := "--" + entry.Flag
		if entry.Kind != kindBool {
			name += " " + strings.ToUpper(strings.ReplaceAll(entry.Flag, "-", "_"))
		}
		groups[entry.Group] = append(groups[entry.Group], helpOption{
			Name: name,
			Desc: fmt.Sprintf("%s (env: %s, default: %s)", entry.Usage, entry.envName(), defaultLabel(defaults, entry.Key)),
		})
	}
	for _, group := range order {
		writeOptionGroup(out, group, groups[group])
	}

	writeOptionGroup(out, "Other", []helpOption{
		{Name: "--config FILE", Desc: fmt.Sprintf("YAML config file (env: %sCONFIG, default: %s)", envPrefix, defaultConfigFile)},
		{Name: "--verbose", Desc: "Enable verbose logging"},
		{Name: "--quiet", Desc: "Reduce logging to warnings"},
		{Name: "--help, -h", Desc: "Show help and exit"},
		{Name: "--version, -v", Desc: "Print version and exit"},
	})
}

func defaultLabel(defaults config.Settings, key string) string {
	var value string
	switch key {
	case "watch.path":
		value = defaults.Watch.Path
	case "watch.filter":
		value = defaults.Watch.Filter
	case "watch.notify-filter":
		value = defaults.Watch.NotifyFilter
	case "watch.recursive":
		value = strconv.FormatBool(defaults.Watch.Recursive)
	case "watch.debounce":
		value = defaults.Watch.Debounce.String()
	case "watch.spam-threshold":
		value = defaults.Watch.SpamThreshold.String()
	case "watch.backend":
		value = defaults.Watch.Backend
	case "server.addr":
		value = defaults.Server.Addr
	case "server.allowed-origins":
		value = strings.Join(defaults.Server.AllowedOrigins, ",")
	case "server.history-size":
		value = strconv.FormatInt(defaults.Server.HistorySize, 10)
	case "log.level":
		value = defaults.Log.Level
	case "log.format":
		value = defaults.Log.Format
	case "log.buffer-size":
		value = strconv.FormatInt(defaults.Log.BufferSize, 10)
	}
	if value == "" {
		return "none"
	}
	return value
}

func writeOptionGroup(out io.Writer, title string, options []helpOption) {
	if len(options) == 0 {
		return
	}
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, title+":")
	for _, option := range options {
		fmt.Fprintf(out, "  %-32s %s\n", option.Name, option.Desc)
	}
}

func newLogger(cfg Config, output io.Writer) *logging.Logger {
	level, ok := logging.ParseLevel(cfg.Settings.Log.Level)
	if !ok {
		level = logging.LevelInfo
	}
	if cfg.Verbose {
		level = logging.LevelDebug
	} else if cfg.Quiet {
		level = logging.LevelWarning
	}
	format, ok := logging.ParseFormat(cfg.Settings.Log.Format)
	if !ok {
		format = logging.FormatConsole
	}
	buffer := logging.NewLogBuffer(int(cfg.Settings.Log.BufferSize))
	return logging.NewLoggerWithFormat(buffer, level, output, format)
}

func logStartupSources(logger *logging.Logger, cfg Config) {
	if logger == nil {
		return
	}
	keys := make([]string, 0, len(cfg.Sources))
	for key, source := range cfg.Sources {
		if source != sourceDefault {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+string(cfg.Sources[key]))
	}
	logger.Debug("startup settings", map[string]string{
		"sources": strings.Join(parts, " "),
	})
}
