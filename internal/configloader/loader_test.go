// SPDX-License-Identifier: AGPL-3.0-or-later
package configloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowd-org/runsync/internal/tracking"
	"github.com/google/go-cmp/cmp"
)

var testProject = tracking.StaticProject{Entity: "team", Name: "proj"}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "NOTION_TOKEN": "secret_abc",
  "FIXED_HEADERS": ["Run ID", "Timestamp", "User", " lr "],
  "TEAM_NAME": "ignored",
  "EXTRA": true
}`)
	cfg, err := LoadConfig(context.Background(), path, Options{Resolver: testProject, SkipDotEnv: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NotionToken != "secret_abc" {
		t.Fatalf("unexpected token %q", cfg.NotionToken)
	}
	if diff := cmp.Diff([]string{"Run ID", "Timestamp", "User", "lr"}, cfg.FixedHeaders); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
	if cfg.TeamName != "team" || cfg.ProjectName != "proj" {
		t.Fatalf("expected resolved project to overwrite file values, got %s", cfg.Scope())
	}
	if cfg.TitleProperty != "Name" {
		t.Fatalf("expected default title property, got %q", cfg.TitleProperty)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `NOTION_TOKEN: secret_yaml
FIXED_HEADERS:
  - Run ID
  - Timestamp
  - User
TITLE_PROPERTY: Run
`)
	cfg, err := LoadConfig(context.Background(), path, Options{Resolver: testProject, SkipDotEnv: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NotionToken != "secret_yaml" || cfg.TitleProperty != "Run" || len(cfg.FixedHeaders) != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		file     string
		body     string
		resolver tracking.ProjectResolver
		want     string
	}{
		{name: "invalid json", file: "c.json", body: `{"NOTION_TOKEN":`, resolver: testProject, want: "invalid config document"},
		{name: "missing keys", file: "c.json", body: `{}`, resolver: testProject, want: "missing required keys in config: [NOTION_TOKEN FIXED_HEADERS]"},
		{name: "missing headers", file: "c.json", body: `{"NOTION_TOKEN":"x"}`, resolver: testProject, want: "[FIXED_HEADERS]"},
		{name: "empty token", file: "c.json", body: `{"NOTION_TOKEN":" ","FIXED_HEADERS":["Run ID"]}`, resolver: testProject, want: "NOTION_TOKEN is empty"},
		{name: "duplicate header", file: "c.json", body: `{"NOTION_TOKEN":"x","FIXED_HEADERS":["Run ID","lr","lr"]}`, resolver: testProject, want: "duplicate"},
		{name: "no project", file: "c.json", body: `{"NOTION_TOKEN":"x","FIXED_HEADERS":["Run ID"]}`, resolver: tracking.ResolverChain{}, want: "no active tracking project"},
		{name: "empty team", file: "c.json", body: `{"NOTION_TOKEN":"x","FIXED_HEADERS":["Run ID"]}`, resolver: tracking.StaticProject{Name: "proj"}, want: "project or team name is empty"},
		{name: "bad yaml", file: "c.yml", body: "NOTION_TOKEN: [", resolver: testProject, want: "invalid config document"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.file, tc.body)
			_, err := LoadConfig(ctx, path, Options{Resolver: tc.resolver, SkipDotEnv: true})
			if !IsConfigError(err) {
				t.Fatalf("expected config error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(context.Background(), filepath.Join(t.TempDir(), "absent.json"), Options{Resolver: testProject})
	var cfgErr *Error
	if !errors.As(err, &cfgErr) || cfgErr.Msg != "config file not found" {
		t.Fatalf("expected not found config error, got %v", err)
	}
}

func TestLoadConfigTokenFromDotEnv(t *testing.T) {
	const envName = "RUNSYNC_TEST_NOTION_TOKEN"
	t.Cleanup(func() { _ = os.Unsetenv(envName) })

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"NOTION_TOKEN":"env:`+envName+`","FIXED_HEADERS":["Run ID","Timestamp","User"]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(envName+"=secret_from_dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(context.Background(), path, Options{Resolver: testProject})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NotionToken != "secret_from_dotenv" {
		t.Fatalf("expected token from .env, got %q", cfg.NotionToken)
	}
}

func TestLoadConfigUnsetTokenReference(t *testing.T) {
	path := writeConfig(t, "config.json", `{"NOTION_TOKEN":"env:RUNSYNC_UNSET","FIXED_HEADERS":["Run ID"]}`)
	_, err := LoadConfig(context.Background(), path, Options{
		Resolver:   testProject,
		SkipDotEnv: true,
		LookupEnv:  func(string) (string, bool) { return "", false },
	})
	if !IsConfigError(err) || !strings.Contains(err.Error(), "RUNSYNC_UNSET") {
		t.Fatalf("expected unset reference error, got %v", err)
	}
}

func TestSecrets(t *testing.T) {
	direct := writeConfig(t, "config.json", `{"NOTION_TOKEN": " secret_abc ", "FIXED_HEADERS": []}`)
	if diff := cmp.Diff([]string{"secret_abc"}, Secrets(direct)); diff != "" {
		t.Fatalf("secrets mismatch (-want +got):\n%s", diff)
	}

	t.Setenv("RUNSYNC_TEST_TOKEN", "secret_env")
	ref := writeConfig(t, "config.yaml", "NOTION_TOKEN: env:RUNSYNC_TEST_TOKEN\n")
	if diff := cmp.Diff([]string{"secret_env"}, Secrets(ref)); diff != "" {
		t.Fatalf("secrets mismatch (-want +got):\n%s", diff)
	}

	if got := Secrets(filepath.Join(t.TempDir(), "missing.json")); got != nil {
		t.Fatalf("expected nil for missing file, got %v", got)
	}
}

// unsetForTest clears name for the test and restores it afterwards.
func unsetForTest(t *testing.T, name string) {
	t.Helper()
	t.Setenv(name, "")
	if err := os.Unsetenv(name); err != nil {
		t.Fatal(err)
	}
}

func TestSecretsResolvesFromDotEnv(t *testing.T) {
	const envName = "RUNSYNC_TEST_DOTENV_SECRET"
	unsetForTest(t, envName)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"NOTION_TOKEN":"env:`+envName+`","FIXED_HEADERS":["Run ID"]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(envName+"=secret_from_dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"secret_from_dotenv"}, Secrets(path)); diff != "" {
		t.Fatalf("secrets mismatch (-want +got):\n%s", diff)
	}
	if _, set := os.LookupEnv(envName); set {
		t.Fatalf("Secrets must not modify the process environment")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const fromFile = "RUNSYNC_TEST_DOTENV_ONLY"
	const fromProcess = "RUNSYNC_TEST_DOTENV_PROCESS"
	unsetForTest(t, fromFile)
	t.Setenv(fromProcess, "process")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("missing .env must not fail: %v", err)
	}
	body := fromFile + "=file\n" + fromProcess + "=file\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	if got := os.Getenv(fromFile); got != "file" {
		t.Fatalf("expected value seeded from .env, got %q", got)
	}
	if got := os.Getenv(fromProcess); got != "process" {
		t.Fatalf("expected process value to win, got %q", got)
	}
}
