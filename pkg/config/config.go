// Package config loads exporter settings.
//
// Sources, highest priority first:
//  1. process environment
//  2. .env.local, then .env in the working directory
//  3. <name>.local.<ext> next to the secrets file
//  4. the secrets file itself (JSON5)
//  5. defaults
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/titanous/json5"

	"github.com/Sternrassler/goodreads-export/pkg/client"
	"github.com/Sternrassler/goodreads-export/pkg/pagination"
)

// Environment variables read by Load.
const (
	EnvUserID      = "GOODREADS_USER_ID"
	EnvKey         = "GOODREADS_KEY"
	EnvBaseURL     = "GOODREADS_BASE_URL"
	EnvPerPage     = "GOODREADS_PER_PAGE"
	EnvUserAgent   = "GOODREADS_USER_AGENT"
	EnvMaxAttempts = "GOODREADS_MAX_ATTEMPTS"
	EnvRedisURL    = "REDIS_URL"
	EnvLogLevel    = "LOG_LEVEL"
)

// DefaultUserAgent identifies the exporter when nothing else is configured.
const DefaultUserAgent = "goodrexport/1.0 (+https://github.com/Sternrassler/goodreads-export)"

// DotEnvFiles are read from the working directory; earlier files win.
var DotEnvFiles = []string{".env.local", ".env"}

// Config holds every setting of the exporter.
type Config struct {
	UserID      string `json:"user_id"`
	Key         string `json:"key"`
	BaseURL     string `json:"base_url"`
	PerPage     int    `json:"per_page"`
	UserAgent   string `json:"user_agent"`
	MaxAttempts int    `json:"max_attempts"`

	// RedisURL enables the shared request pacer, e.g. redis://localhost:6379/0.
	RedisURL string `json:"redis_url"`

	LogLevel  string `json:"log_level"`
	LogPretty bool   `json:"log_pretty"`
}

// Load reads the secrets file (optional when path is empty), then applies
// .env files, the environment and defaults. It does not validate.
func Load(secretsPath string) (Config, error) {
	var cfg Config
	if secretsPath != "" {
		fileCfg, err := ReadFile(secretsPath)
		if err != nil {
			return Config{}, fmt.Errorf("read secrets %s: %w", secretsPath, err)
		}
		cfg = fileCfg
	}

	dotenv, err := readDotEnv(DotEnvFiles)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		for _, values := range dotenv {
			if v, ok := values[key]; ok {
				return v, true
			}
		}
		return "", false
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ReadFile reads a JSON5 config file merged with its local override:
// for secrets.json5 that is secrets.local.json5 in the same directory.
// It fails with fs.ErrNotExist only when neither file exists.
func ReadFile(name string) (Config, error) {
	var out Config
	found := false

	base, err := os.ReadFile(name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return out, err
	}
	if len(base) > 0 {
		if err := json5.Unmarshal(base, &out); err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
		found = true
	}

	localPath := localName(name)
	local, err := os.ReadFile(localPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return out, err
	}
	if len(local) > 0 {
		var override Config
		if err := json5.Unmarshal(local, &override); err != nil {
			return out, fmt.Errorf("parse %s: %w", localPath, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("merge %s: %w", localPath, err)
		}
		log.Debug().Str("local", localPath).Msg("Merging config with local overrides")
		found = true
	}

	if !found {
		return out, fs.ErrNotExist
	}
	return out, nil
}

// localName maps dir/name.ext to dir/name.local.ext.
func localName(name string) string {
	dir, base := filepath.Split(name)
	ext := filepath.Ext(base)
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+".local"+ext)
}

func readDotEnv(files []string) ([]map[string]string, error) {
	var out []map[string]string
	for _, f := range files {
		values, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		out = append(out, values)
	}
	return out, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		EnvUserID:    &c.UserID,
		EnvKey:       &c.Key,
		EnvBaseURL:   &c.BaseURL,
		EnvUserAgent: &c.UserAgent,
		EnvRedisURL:  &c.RedisURL,
		EnvLogLevel:  &c.LogLevel,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		EnvPerPage:     &c.PerPage,
		EnvMaxAttempts: &c.MaxAttempts,
	}
	for name, dst := range ints {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", name, v)
		}
		*dst = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = client.DefaultBaseURL
	}
	if c.PerPage == 0 {
		c.PerPage = pagination.DefaultPerPage
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the settings an export needs.
func (c Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user id is required (set user_id or %s)", EnvUserID)
	}
	if c.Key == "" {
		return fmt.Errorf("api key is required (set key or %s)", EnvKey)
	}
	if c.PerPage < 1 || c.PerPage > pagination.DefaultPerPage {
		return fmt.Errorf("per_page must be between 1 and %d (got %d)", pagination.DefaultPerPage, c.PerPage)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", c.MaxAttempts)
	}
	return nil
}
