// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/flowd-org/runsync/internal/configloader"
	"github.com/flowd-org/runsync/internal/coredb"
	"github.com/google/go-cmp/cmp"
)

type fakeServices struct {
	mu      sync.Mutex
	created []string
}

func (f *fakeServices) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, _ := r.BasicAuth(); user != "api" || pass != "wandb-key" {
			t.Errorf("unexpected tracking credentials %q %q", user, pass)
		}
		edge := func(name, state, user string) map[string]any {
			return map[string]any{"node": map[string]any{
				"name":           name,
				"state":          state,
				"config":         `{"lr":{"value":0.01},"_wandb":{"value":{}}}`,
				"summaryMetrics": `{"_timestamp":1700000000,"loss":0.5}`,
				"user":           map[string]any{"name": user, "username": user},
			}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"project": map[string]any{"runs": map[string]any{
			"edges": []map[string]any{
				edge("r0", "finished", "alice"),
				edge("r1", "finished", "alice"),
				edge("r2", "running", "alice"),
				edge("r3", "finished", "bob"),
			},
			"pageInfo": map[string]any{"endCursor": "", "hasNextPage": false},
		}}}})
	})
	mux.HandleFunc("GET /v1/databases/db-1", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret_tok" {
			t.Errorf("unexpected authorization %q", got)
		}
		_, _ = w.Write([]byte(`{"object":"database","id":"db-1","properties":{"Name":{"type":"title"}}}`))
	})
	mux.HandleFunc("POST /v1/databases/db-1/query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"list","results":[{"id":"p0","properties":{"Name":{"type":"title","title":[{"type":"text","text":{"content":"r0"},"plain_text":"r0"}]}}}],"has_more":false,"next_cursor":null}`))
	})
	mux.HandleFunc("POST /v1/pages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Properties map[string]struct {
				Title []struct {
					Text struct {
						Content string `json:"content"`
					} `json:"text"`
				} `json:"title"`
			} `json:"properties"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode page: %v", err)
		}
		f.mu.Lock()
		f.created = append(f.created, req.Properties["Name"].Title[0].Text.Content)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"object":"page","id":"p-new"}`))
	})
	return mux
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	body := `{"NOTION_TOKEN":"secret_tok","FIXED_HEADERS":["Run ID","Timestamp","User","lr"],"TEAM_NAME":"ignored","PROJECT_NAME":"ignored"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootOnceSyncsNewRuns(t *testing.T) {
	services := &fakeServices{}
	srv := httptest.NewServer(services.handler(t))
	defer srv.Close()

	tmp := t.TempDir()
	t.Setenv(envNotionBaseURL, srv.URL)
	t.Setenv(envTrackingBaseURL, srv.URL)
	t.Setenv(envAPIKey, "wandb-key")
	configPath := writeConfig(t, tmp)
	logFile := filepath.Join(tmp, "logs", "wandb_sync.log")
	dataDir := filepath.Join(tmp, "data")

	var stderr bytes.Buffer
	root := NewRootCmd()
	root.SetErr(&stderr)
	root.SetOut(&stderr)
	root.SetArgs([]string{
		"--database_id", "db-1",
		"--user_name", "alice",
		"--config_path", configPath,
		"--entity", "team",
		"--project", "proj",
		"--log_file", logFile,
		"--data_dir", dataDir,
		"--once",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v\n%s", err, stderr.String())
	}

	if diff := cmp.Diff([]string{"r1"}, services.created); diff != "" {
		t.Fatalf("created rows mismatch (-want +got):\n%s", diff)
	}

	logged, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{"Starting sync process (Schedule: every 30 minutes)", "Successfully added 1 new runs"} {
		if !strings.Contains(string(logged), want) {
			t.Fatalf("expected %q in log file, got %s", want, logged)
		}
	}
	if strings.Contains(stderr.String(), "wandb-key") {
		t.Fatalf("api key leaked into logs: %s", stderr.String())
	}

	db, err := coredb.Open(context.Background(), coredb.Options{DataDir: dataDir})
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer db.Close()
	tick, err := coredb.NewJournal(db).LastTick(context.Background())
	if err != nil {
		t.Fatalf("last tick: %v", err)
	}
	if tick.Status != coredb.TickSucceeded || tick.Written != 1 || tick.Scope != "team/proj" {
		t.Fatalf("unexpected journal tick %+v", tick)
	}
}

func TestRootRequiresDatabaseID(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetErr(&out)
	root.SetOut(&out)
	root.SetArgs([]string{"--once"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "database_id") {
		t.Fatalf("expected required flag error, got %v", err)
	}
}

func TestRootOnceReportsConfigError(t *testing.T) {
	tmp := t.TempDir()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetErr(&out)
	root.SetOut(&out)
	root.SetArgs([]string{
		"--database_id", "db-1",
		"--config_path", filepath.Join(tmp, "missing.json"),
		"--log_file", "",
		"--journal=false",
		"--once",
	})
	err := root.Execute()
	if !configloader.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	if !strings.Contains(out.String(), "Error in main sync process") {
		t.Fatalf("expected tick error logged, got %s", out.String())
	}
}

func TestRootRejectsNonPositiveSchedule(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetErr(&out)
	root.SetOut(&out)
	root.SetArgs([]string{"--database_id", "db-1", "--schedule_time", "0", "--log_file", ""})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "schedule_time") {
		t.Fatalf("expected schedule error, got %v", err)
	}
}

func TestRootOnceReadsCredentialsFromDotEnv(t *testing.T) {
	services := &fakeServices{}
	srv := httptest.NewServer(services.handler(t))
	defer srv.Close()

	const tokenVar = "RUNSYNC_TEST_CMD_NOTION_TOKEN"
	for _, name := range []string{envAPIKey, tokenVar} {
		t.Setenv(name, "")
		if err := os.Unsetenv(name); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv(envNotionBaseURL, srv.URL)
	t.Setenv(envTrackingBaseURL, srv.URL)

	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.json")
	body := `{"NOTION_TOKEN":"env:` + tokenVar + `","FIXED_HEADERS":["Run ID","Timestamp","User","lr"]}`
	if err := os.WriteFile(configPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	dotEnv := envAPIKey + "=wandb-key\n" + tokenVar + "=secret_tok\n"
	if err := os.WriteFile(filepath.Join(tmp, ".env"), []byte(dotEnv), 0o600); err != nil {
		t.Fatal(err)
	}

	var stderr bytes.Buffer
	root := NewRootCmd()
	root.SetErr(&stderr)
	root.SetOut(&stderr)
	root.SetArgs([]string{
		"--database_id", "db-1",
		"--user_name", "alice",
		"--config_path", configPath,
		"--entity", "team",
		"--project", "proj",
		"--log_file", "",
		"--journal=false",
		"--once",
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v\n%s", err, stderr.String())
	}
	if diff := cmp.Diff([]string{"r1"}, services.created); diff != "" {
		t.Fatalf("created rows mismatch (-want +got):\n%s", diff)
	}
}

func TestRootFlagsUseUnderscores(t *testing.T) {
	flags := NewRootCmd().Flags()
	for _, name := range []string{"schedule_time", "user_name", "database_id", "config_path", "log_file", "run_now", "data_dir"} {
		if flags.Lookup(name) == nil {
			t.Fatalf("expected flag --%s", name)
		}
	}
}
