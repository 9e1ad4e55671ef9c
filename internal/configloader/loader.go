// SPDX-License-Identifier: AGPL-3.0-or-later

package configloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowd-org/runsync/internal/tracking"
	"github.com/flowd-org/runsync/internal/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envRefPrefix = "env:"

var requiredKeys = []string{"NOTION_TOKEN", "FIXED_HEADERS"}

// Error reports bad or missing configuration, including an unresolvable
// tracking project.
type Error struct {
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := "config"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsConfigError reports whether err is (or wraps) a configuration error.
func IsConfigError(err error) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr)
}

// Options controls LoadConfig.
type Options struct {
	// Resolver names the tracking project. Required.
	Resolver tracking.ProjectResolver
	Logger   *slog.Logger
	// LookupEnv resolves env: references; defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// SkipDotEnv disables loading .env next to the config file.
	SkipDotEnv bool
}

// LoadConfig reads and validates the config file at path and enriches it
// with the resolved tracking project. Every failure is an *Error.
func LoadConfig(ctx context.Context, path string, opts Options) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &Error{Path: path, Msg: "config file not found"}
		}
		return nil, &Error{Path: path, Msg: "read config file", Err: err}
	}

	if !opts.SkipDotEnv {
		if err := LoadDotEnv(path); err != nil {
			return nil, err
		}
	}

	keys, cfg, err := decode(path, data)
	if err != nil {
		return nil, &Error{Path: path, Msg: "invalid config document", Err: err}
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := keys[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &Error{Path: path, Msg: fmt.Sprintf("missing required keys in config: %v", missing)}
	}

	if err := normalize(cfg, opts.LookupEnv); err != nil {
		return nil, &Error{Path: path, Msg: err.Error()}
	}

	if opts.Resolver == nil {
		return nil, &Error{Path: path, Msg: "failed to get tracking project info", Err: tracking.ErrNoActiveProject}
	}
	project, err := opts.Resolver.ResolveProject(ctx)
	if err != nil {
		return nil, &Error{Path: path, Msg: "failed to get tracking project info", Err: err}
	}
	if !project.Complete() {
		return nil, &Error{Path: path, Msg: "failed to get tracking project info", Err: fmt.Errorf("project or team name is empty (team=%q project=%q)", project.Entity, project.Name)}
	}
	cfg.TeamName = project.Entity
	cfg.ProjectName = project.Name

	if opts.Logger != nil {
		opts.Logger.Info("using tracking project",
			slog.String("project", cfg.ProjectName),
			slog.String("team", cfg.TeamName),
		)
	}
	return cfg, nil
}

// decode parses JSON, or YAML for .yaml/.yml files, returning the set of
// top-level keys alongside the typed config.
func decode(path string, data []byte) (map[string]struct{}, *types.Config, error) {
	keys := map[string]struct{}{}
	var cfg types.Config

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, nil, err
		}
		for k := range raw {
			keys[k] = struct{}{}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, nil, err
		}
	default:
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, err
		}
		for k := range raw {
			keys[k] = struct{}{}
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, nil, err
		}
	}
	return keys, &cfg, nil
}

func normalize(cfg *types.Config, lookupEnv func(string) (string, bool)) error {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	token := strings.TrimSpace(cfg.NotionToken)
	if ref, ok := strings.CutPrefix(token, envRefPrefix); ok {
		val, found := lookupEnv(strings.TrimSpace(ref))
		if !found {
			return fmt.Errorf("NOTION_TOKEN references unset environment variable %q", ref)
		}
		token = strings.TrimSpace(val)
	}
	if token == "" {
		return errors.New("NOTION_TOKEN is empty")
	}
	cfg.NotionToken = token

	if len(cfg.FixedHeaders) == 0 {
		return errors.New("FIXED_HEADERS is empty")
	}
	seen := make(map[string]struct{}, len(cfg.FixedHeaders))
	for i, h := range cfg.FixedHeaders {
		h = strings.TrimSpace(h)
		if h == "" {
			return fmt.Errorf("FIXED_HEADERS[%d] is empty", i)
		}
		if _, dup := seen[h]; dup {
			return fmt.Errorf("FIXED_HEADERS contains duplicate %q", h)
		}
		seen[h] = struct{}{}
		cfg.FixedHeaders[i] = h
	}

	cfg.TitleProperty = strings.TrimSpace(cfg.TitleProperty)
	if cfg.TitleProperty == "" {
		cfg.TitleProperty = types.DefaultTitleProperty
	}
	cfg.TeamName = ""
	cfg.ProjectName = ""
	return nil
}

// DotEnvPath returns the .env file read alongside the config at path.
func DotEnvPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ".env")
}

// LoadDotEnv seeds the process environment from the .env file next to the
// config at path. Existing process variables win over the file. A missing
// file is not an error.
func LoadDotEnv(configPath string) error {
	envFile := DotEnvPath(configPath)
	if _, err := os.Stat(envFile); err != nil {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return &Error{Path: envFile, Msg: "load env file", Err: err}
	}
	return nil
}

// Secrets returns the credential values in the config file at path so they
// can be redacted from logs. An env: reference resolves against the process
// environment, then the .env file next to the config. Unreadable or invalid
// files yield nil.
func Secrets(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	_, cfg, err := decode(path, data)
	if err != nil {
		return nil
	}
	token := strings.TrimSpace(cfg.NotionToken)
	if ref, ok := strings.CutPrefix(token, envRefPrefix); ok {
		token = ""
		name := strings.TrimSpace(ref)
		if val, found := os.LookupEnv(name); found {
			token = strings.TrimSpace(val)
		} else if fileEnv, err := godotenv.Read(DotEnvPath(path)); err == nil {
			token = strings.TrimSpace(fileEnv[name])
		}
	}
	if token == "" {
		return nil
	}
	return []string{token}
}
