// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the store's JSON configuration
// file and resolves the store root directory from the environment,
// mirroring the teacher's lib/config structuring convention (a
// doc-commented struct of defaults plus an explicit validation step)
// but using JSON, extended with comments and trailing commas via
// jsonc, rather than YAML.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tidwall/jsonc"

	"github.com/nilgrove/repodex/internal/indexerr"
	"github.com/nilgrove/repodex/internal/vpath"
)

// DefaultPieceSize is the BLAKE3 piece size used when the
// configuration omits blake3_piece_size.
const DefaultPieceSize int64 = 1 << 20

// LevelNotice and LevelCrit extend slog's four standard levels the
// same way the teacher's services do: named constants offset from the
// nearest standard level, since slog has no native Notice or Crit.
const (
	LevelNotice = slog.LevelInfo + 2
	LevelCrit   = slog.LevelError + 4
)

// PublishedPath binds a virtual path to a filesystem directory, one
// entry of the published_paths array of §6.
type PublishedPath struct {
	// Virtual is a validated slash-separated virtual path. The empty
	// string publishes the filesystem root of FS at the virtual root.
	Virtual string `json:"virtual"`

	// FS is an absolute filesystem path.
	FS string `json:"fs"`
}

// Config is the store's on-disk configuration, loaded from the
// "config" file at the store root (§6). Fields not present in the
// file, or present as JSON null, take the defaults documented below.
type Config struct {
	// HashThreads is the number of hasher goroutines. nil means auto:
	// min(4, runtime.NumCPU()).
	HashThreads *int `json:"hash_threads"`

	// BLAKE3PieceSize is the piece size, in bytes, above which a
	// file is hashed as chained pieces rather than a single root.
	// Must be a power of two no smaller than 1024. Default 1 MiB.
	BLAKE3PieceSize int64 `json:"blake3_piece_size"`

	// LogLevel is one of debug, info, notice, warn, err, crit.
	// Default info.
	LogLevel string `json:"log_level"`

	// PublishedPaths binds virtual paths to filesystem directories.
	// Duplicate virtuals or invalid paths reject the configuration.
	PublishedPaths []PublishedPath `json:"published_paths"`

	// ManifestCompression wraps manifest artifacts in a streaming
	// zstd writer before content-addressing them. Default off; an
	// addition beyond §6's own table, since it changes nothing the
	// manifest grammar itself requires, only the bytes on disk.
	ManifestCompression bool `json:"manifest_compression"`

	// HashIORate caps mmap-open attempts per second across all
	// hasher goroutines, in operations per second. Zero (the
	// default) means unlimited. Meant for trees mounted over a
	// network filesystem where unthrottled concurrent opens would
	// otherwise saturate the link.
	HashIORate float64 `json:"hash_io_rate"`
}

// Default returns the configuration applied before a config file is
// loaded, so every field has a sensible value even for a store run
// without one.
func Default() *Config {
	return &Config{
		HashThreads:     nil,
		BLAKE3PieceSize: DefaultPieceSize,
		LogLevel:        "info",
		HashIORate:      0,
	}
}

// Load reads and validates the configuration file at path. A missing
// file is not an error — Default is returned unchanged — since a
// store can run with no config file at all.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, indexerr.InvalidConfig(fmt.Sprintf("reading config %s", path), err)
	}
	return Parse(data)
}

// Parse strips JSONC comments and trailing commas from data, merges
// it onto Default, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, indexerr.InvalidConfig("parsing config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, indexerr.InvalidConfig("validating config", err)
	}
	return cfg, nil
}

// Validate checks every field against §6's rules. Unknown top-level
// JSON keys are never rejected — encoding/json already discards them
// during Unmarshal, so there is nothing left for Validate to police.
func (c *Config) Validate() error {
	if c.HashThreads != nil && *c.HashThreads < 1 {
		return fmt.Errorf("hash_threads must be >= 1, got %d", *c.HashThreads)
	}
	if c.BLAKE3PieceSize < 1024 || c.BLAKE3PieceSize&(c.BLAKE3PieceSize-1) != 0 {
		return fmt.Errorf("blake3_piece_size must be a power of two >= 1024, got %d", c.BLAKE3PieceSize)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.PublishedPaths))
	for _, p := range c.PublishedPaths {
		clean := vpath.Clean(p.Virtual)
		if clean != "" {
			for _, component := range splitComponents(clean) {
				if err := vpath.ValidateName(component); err != nil {
					return fmt.Errorf("published_paths: virtual %q: %w", p.Virtual, err)
				}
			}
		}
		if seen[clean] {
			return fmt.Errorf("published_paths: duplicate virtual %q", p.Virtual)
		}
		seen[clean] = true

		if !filepath.IsAbs(p.FS) {
			return fmt.Errorf("published_paths: fs %q is not an absolute path", p.FS)
		}
	}
	return nil
}

// splitComponents breaks a cleaned virtual path into its
// slash-separated components for per-component name validation.
func splitComponents(clean string) []string {
	var components []string
	for clean != "" {
		components = append(components, vpath.Head(clean))
		clean = vpath.Tail(clean)
	}
	return components
}

// ResolvedHashThreads returns HashThreads if set, otherwise the
// min(4, NumCPU) default applied when the field is null.
func (c *Config) ResolvedHashThreads() int {
	if c.HashThreads != nil {
		return *c.HashThreads
	}
	if n := runtime.NumCPU(); n < 4 {
		return n
	}
	return 4
}

// ParseLogLevel maps the six §6 log level names onto slog.Level,
// including notice and crit, which slog has no native level for.
func ParseLogLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn":
		return slog.LevelWarn, nil
	case "err":
		return slog.LevelError, nil
	case "crit":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("log_level: unrecognized level %q", name)
	}
}
