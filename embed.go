package filewatch

import "embed"

// EmbeddedConfigFS provides the default settings file.
//
//go:embed config/filewatch.yaml
var EmbeddedConfigFS embed.FS

const DefaultConfigPath = "config/filewatch.yaml"
