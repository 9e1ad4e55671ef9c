// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notion is a minimal client for the Notion REST API covering the
// calls the sync needs: database retrieval, database query and page creation.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flowd-org/runsync/internal/observability/tracing"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public Notion API endpoint.
	DefaultBaseURL = "https://api.notion.com"
	// DefaultVersion is the Notion-Version header sent with every request.
	DefaultVersion = "2022-06-28"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// Error reports a failed destination-workspace operation.
type Error struct {
	Op      string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("notion: ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotionError reports whether err is (or wraps) a destination error.
func IsNotionError(err error) bool {
	var nerr *Error
	return errors.As(err, &nerr)
}

// Options configures NewClient.
type Options struct {
	BaseURL string
	Token   string
	Version string
	// HTTPClient is the base client the bearer transport wraps.
	HTTPClient *http.Client
}

// Client talks to one Notion workspace integration.
type Client struct {
	baseURL string
	version string
	http    *http.Client
}

// NewClient returns a client authenticating with the integration token.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	version := opts.Version
	if version == "" {
		version = DefaultVersion
	}
	baseClient := opts.HTTPClient
	if baseClient == nil {
		baseClient = &http.Client{Timeout: defaultTimeout}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: opts.Token,
		TokenType:   "Bearer",
	}))
	hc.Timeout = baseClient.Timeout
	return &Client{baseURL: base, version: version, http: hc}
}

// RetrieveDatabase fetches the database metadata. It doubles as the
// existence probe run before each sync.
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (db *Database, err error) {
	ctx, span := tracing.Start(ctx, "notion.retrieve_database", tracing.DatabaseID(databaseID))
	defer tracing.End(span, &err)

	db = &Database{}
	if err = c.do(ctx, "retrieve database", http.MethodGet, "/v1/databases/"+url.PathEscape(databaseID), nil, db); err != nil {
		return nil, err
	}
	return db, nil
}

// QueryDatabase returns one page of rows.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, req QueryRequest) (resp *QueryResponse, err error) {
	ctx, span := tracing.Start(ctx, "notion.query_database",
		tracing.DatabaseID(databaseID),
		tracing.String("notion.start_cursor", req.StartCursor),
	)
	defer tracing.End(span, &err)

	resp = &QueryResponse{}
	if err = c.do(ctx, "query database", http.MethodPost, "/v1/databases/"+url.PathEscape(databaseID)+"/query", req, resp); err != nil {
		return nil, err
	}
	span.SetAttributes(tracing.Int("notion.results", len(resp.Results)))
	return resp, nil
}

// CreatePage creates a row in the request's parent database.
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (page *Page, err error) {
	ctx, span := tracing.Start(ctx, "notion.create_page", tracing.DatabaseID(req.Parent.DatabaseID))
	defer tracing.End(span, &err)

	page = &Page{}
	if err = c.do(ctx, "create page", http.MethodPost, "/v1/pages", req, page); err != nil {
		return nil, err
	}
	return page, nil
}

type apiError struct {
	Object  string `json:"object"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if span := tracing.FromContext(ctx); span != nil {
		span.SetAttributes(tracing.HTTPStatus(resp.StatusCode))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		e := &Error{Op: op, Status: resp.StatusCode}
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Object == "error" {
			e.Code = apiErr.Code
			e.Message = apiErr.Message
		} else {
			e.Message = strings.TrimSpace(string(raw))
		}
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
