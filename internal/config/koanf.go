// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the environment variable holding the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"config.toml",
}

// ErrParse marks a configuration file that cannot be read or parsed.
// Startup must abort on it.
var ErrParse = errors.New("config: cannot parse configuration file")

// FindConfigFile resolves the configuration file path: the explicit path,
// then CONFIG_PATH, then DefaultConfigPaths. Returns "" when none exists.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadDefaults builds the file-sourced default document.
//
// Layers, lowest first:
//  1. DefaultSettings() via the structs provider
//  2. the configuration file (YAML or TOML), if path is non-empty
//  3. FLEETD_* and LOG_* environment variables
func LoadDefaults(path string) (Document, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	return Document(k.Raw()), nil
}

// DecodeSettings produces the typed view of doc, filling absent keys
// from DefaultSettings().
func DecodeSettings(doc Document) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultSettings(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(documentProvider{doc: doc}, nil); err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	settings := &Settings{}
	if err := k.Unmarshal("", settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return settings, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return tomlParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %s: unsupported extension", ErrParse, path)
	}
}

// tomlParser implements koanf.Parser with BurntSushi/toml.
type tomlParser struct{}

func (tomlParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := toml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (tomlParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// documentProvider feeds an in-memory document into koanf.
type documentProvider struct {
	doc Document
}

func (p documentProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("documentProvider does not support ReadBytes")
}

func (p documentProvider) Read() (map[string]interface{}, error) {
	if p.doc == nil {
		return map[string]interface{}{}, nil
	}
	return maps.Copy(p.doc), nil
}

// sliceConfigPaths are parsed as comma-separated lists when set from env.
var sliceConfigPaths = []string{
	"watch.paths",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to document paths.
// Unmapped variables return "" and are skipped.
//
// Examples:
//   - FLEETD_CLUSTERS -> clusters
//   - FLEETD_LOG_WEBHOOK -> logging.webhook
//   - FLEETD_NATS_URL -> store.nats.url
//   - LOG_LEVEL -> console.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"fleetd_name":     "name",
		"fleetd_clusters": "clusters",

		"fleetd_refresh_interval_ms": "settings_refresh.interval_ms",
		"fleetd_refresh_mode":        "settings_refresh.mode",

		"fleetd_store_backend": "store.backend",
		"fleetd_nats_url":      "store.nats.url",
		"fleetd_nats_embedded": "store.nats.embedded",
		"fleetd_nats_port":     "store.nats.port",
		"fleetd_nats_bucket":   "store.nats.bucket",
		"fleetd_badger_path":   "store.badger.path",

		"fleetd_log_status":      "logging.status",
		"fleetd_log_webhook":     "logging.webhook",
		"fleetd_log_timeout_ms":  "logging.timeout_ms",
		"fleetd_log_file":        "logging.local.file",
		"fleetd_log_max_size_kb": "logging.local.max_size_kb",

		"fleetd_watch_enabled": "watch.enabled",
		"fleetd_watch_paths":   "watch.paths",

		"fleetd_http_host": "website.host",
		"fleetd_http_port": "website.port",

		"log_level":  "console.level",
		"log_format": "console.format",
		"log_caller": "console.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
