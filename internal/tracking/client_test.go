// SPDX-License-Identifier: AGPL-3.0-or-later
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func node(name, state, user, config, summary string) map[string]any {
	return map[string]any{
		"node": map[string]any{
			"name":           name,
			"displayName":    name + "-display",
			"state":          state,
			"config":         config,
			"summaryMetrics": summary,
			"user":           map[string]any{"name": user, "username": user},
		},
	}
}

func pageBody(edges []map[string]any, cursor string, more bool) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"project": map[string]any{
				"runs": map[string]any{
					"edges":    edges,
					"pageInfo": map[string]any{"endCursor": cursor, "hasNextPage": more},
				},
			},
		},
	}
}

func TestRunsPaginatesLazily(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/graphql" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "key-123" {
			t.Errorf("unexpected basic auth %q %q %v", user, pass, ok)
		}
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Variables["entity"] != "team" || req.Variables["project"] != "proj" {
			t.Errorf("unexpected variables %v", req.Variables)
		}
		w.Header().Set("Content-Type", "application/json")
		switch req.Variables["cursor"] {
		case nil:
			_ = json.NewEncoder(w).Encode(pageBody([]map[string]any{
				node("r1", "finished", "alice", `{"lr":{"desc":null,"value":0.01},"_wandb":{"value":{"x":1}}}`, `{"_timestamp":1700000000.5,"loss":0.25}`),
				node("r2", "running", "bob", `{}`, `{}`),
			}, "c1", true))
		case "c1":
			_ = json.NewEncoder(w).Encode(pageBody([]map[string]any{
				node("r3", "failed", "alice", "", ""),
			}, "c2", false))
		default:
			t.Errorf("unexpected cursor %v", req.Variables["cursor"])
		}
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL + "/", APIKey: "key-123"})
	it := client.Runs(context.Background(), "team", "proj")
	if requests.Load() != 0 {
		t.Fatalf("expected no request before Next")
	}

	var ids []string
	for it.Next() {
		run := it.Run()
		ids = append(ids, run.ID)
		if run.ID == "r1" {
			if requests.Load() != 1 {
				t.Fatalf("expected one request for first page, got %d", requests.Load())
			}
			lr, ok := run.Config.Lookup("lr")
			if !ok || lr.String() != "0.01" {
				t.Fatalf("expected unwrapped lr 0.01, got %v %v", lr, ok)
			}
			if _, ok := run.Config.Lookup("_wandb"); ok {
				t.Fatalf("expected internal config keys dropped")
			}
			if ts, ok := run.Summary.Number(TimestampKey); !ok || ts != 1700000000.5 {
				t.Fatalf("unexpected timestamp %v %v", ts, ok)
			}
			if run.User != "alice" || run.State != StateFinished {
				t.Fatalf("unexpected run %+v", run)
			}
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if strings.Join(ids, ",") != "r1,r2,r3" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if it.Pages() != 2 || requests.Load() != 2 {
		t.Fatalf("expected 2 pages, got pages=%d requests=%d", it.Pages(), requests.Load())
	}
}

func TestRunsSurfacesGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"permission denied"}],"data":null}`))
	}))
	defer srv.Close()

	it := NewClient(Options{BaseURL: srv.URL}).Runs(context.Background(), "team", "proj")
	if it.Next() {
		t.Fatalf("expected no runs")
	}
	var terr *Error
	if !errors.As(it.Err(), &terr) {
		t.Fatalf("expected *Error, got %v", it.Err())
	}
	if len(terr.Messages) != 1 || terr.Messages[0] != "permission denied" {
		t.Fatalf("unexpected messages %v", terr.Messages)
	}
}

func TestRunsMissingProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"project":null}}`))
	}))
	defer srv.Close()

	it := NewClient(Options{BaseURL: srv.URL}).Runs(context.Background(), "team", "missing")
	if it.Next() {
		t.Fatalf("expected no runs")
	}
	if it.Err() == nil || !strings.Contains(it.Err().Error(), "team/missing not found") {
		t.Fatalf("expected not found error, got %v", it.Err())
	}
}

func TestRunsHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	it := NewClient(Options{BaseURL: srv.URL}).Runs(context.Background(), "team", "proj")
	it.Next()
	var terr *Error
	if !errors.As(it.Err(), &terr) || terr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 error, got %v", it.Err())
	}
}

func TestRunKeepsBadDocumentsAsRunError(t *testing.T) {
	run := runNode{Name: "r1", State: "finished", Config: `{not json`, SummaryMetrics: `{"a":1}`}.toRun()
	if run.Err == nil {
		t.Fatalf("expected decode error on run")
	}
	if v, ok := run.Summary.Lookup("a"); !ok || v.String() != "1" {
		t.Fatalf("expected summary decoded despite config error, got %v", v)
	}
}
