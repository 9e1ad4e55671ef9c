// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tracking reads experiment runs from the Weights & Biases GraphQL API.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowd-org/runsync/internal/observability/tracing"
)

const (
	// DefaultBaseURL is the public W&B API endpoint.
	DefaultBaseURL  = "https://api.wandb.ai"
	defaultPageSize = 50
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 4 << 10
)

const runsQuery = `query Runs($project: String!, $entity: String!, $cursor: String, $perPage: Int!) {
  project(name: $project, entityName: $entity) {
    runs(after: $cursor, first: $perPage, order: "-created_at") {
      edges {
        node {
          name
          displayName
          state
          config
          summaryMetrics
          user { name username }
        }
      }
      pageInfo { endCursor hasNextPage }
    }
  }
}`

// Error reports a failed tracking-service call.
type Error struct {
	Op       string
	Status   int
	Messages []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("tracking: ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures NewClient.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// PageSize bounds the runs fetched per request. Zero uses 50.
	PageSize int
}

// Client is a read-only handle to the tracking service.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	pageSize int
}

// NewClient returns a client for the supplied options.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	size := opts.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	return &Client{baseURL: base, apiKey: opts.APIKey, http: hc, pageSize: size}
}

// Runs returns a lazy iterator over every run in entity/project. Pages are
// requested only as the caller advances past the buffered runs.
func (c *Client) Runs(ctx context.Context, entity, project string) *RunIterator {
	return &RunIterator{ctx: ctx, client: c, entity: entity, project: project, more: true}
}

type runsPage struct {
	Project *struct {
		Runs struct {
			Edges []struct {
				Node runNode `json:"node"`
			} `json:"edges"`
			PageInfo struct {
				EndCursor   string `json:"endCursor"`
				HasNextPage bool   `json:"hasNextPage"`
			} `json:"pageInfo"`
		} `json:"runs"`
	} `json:"project"`
}

func (c *Client) fetchPage(ctx context.Context, entity, project, cursor string) (runs []Run, next string, more bool, err error) {
	ctx, span := tracing.Start(ctx, "tracking.runs_page",
		tracing.String("tracking.scope", entity+"/"+project),
		tracing.String("tracking.cursor", cursor),
	)
	defer tracing.End(span, &err)

	vars := map[string]any{
		"entity":  entity,
		"project": project,
		"perPage": c.pageSize,
	}
	if cursor != "" {
		vars["cursor"] = cursor
	}
	var page runsPage
	if err = c.query(ctx, "list runs", runsQuery, vars, &page); err != nil {
		return nil, "", false, err
	}
	if page.Project == nil {
		err = &Error{Op: "list runs", Err: fmt.Errorf("project %s/%s not found", entity, project)}
		return nil, "", false, err
	}
	edges := page.Project.Runs.Edges
	runs = make([]Run, 0, len(edges))
	for _, edge := range edges {
		runs = append(runs, edge.Node.toRun())
	}
	span.SetAttributes(tracing.Int("tracking.runs", len(runs)))
	info := page.Project.Runs.PageInfo
	return runs, info.EndCursor, info.HasNextPage && info.EndCursor != "", nil
}

type graphqlError struct {
	Message string `json:"message"`
}

func (c *Client) query(ctx context.Context, op, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(body))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.SetBasicAuth("api", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		e := &Error{Op: op, Status: resp.StatusCode}
		if msg := strings.TrimSpace(string(snippet)); msg != "" {
			e.Messages = []string{msg}
		}
		return e
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(envelope.Errors) > 0 {
		e := &Error{Op: op, Status: resp.StatusCode}
		for _, ge := range envelope.Errors {
			e.Messages = append(e.Messages, ge.Message)
		}
		return e
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return &Error{Op: op, Status: resp.StatusCode, Err: errors.New("empty response data")}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
