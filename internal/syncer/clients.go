// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"
	"net/http"

	"github.com/flowd-org/runsync/internal/notion"
	"github.com/flowd-org/runsync/internal/rows"
	"github.com/flowd-org/runsync/internal/tracking"
	"github.com/flowd-org/runsync/internal/types"
)

// Destination is the subset of the Notion API the sync uses.
type Destination interface {
	RetrieveDatabase(ctx context.Context, databaseID string) (*notion.Database, error)
	QueryDatabase(ctx context.Context, databaseID string, req notion.QueryRequest) (*notion.QueryResponse, error)
	CreatePage(ctx context.Context, req notion.CreatePageRequest) (*notion.Page, error)
}

// RunFetcher lists the runs of a project.
type RunFetcher interface {
	FetchRuns(ctx context.Context, project tracking.Project) rows.RunSource
}

// TrackingFetcher adapts a tracking client to RunFetcher.
type TrackingFetcher struct {
	Client *tracking.Client
}

func (f TrackingFetcher) FetchRuns(ctx context.Context, project tracking.Project) rows.RunSource {
	return f.Client.Runs(ctx, project.Entity, project.Name)
}

// Clients are the handles a tick works with.
type Clients struct {
	Destination Destination
	Runs        RunFetcher
}

// InitOptions configures Init.
type InitOptions struct {
	NotionBaseURL   string
	TrackingBaseURL string
	TrackingAPIKey  string
	HTTPClient      *http.Client
}

// Init builds the destination client and the tracking handle, then probes
// the database. Any probe failure is a *notion.Error.
func Init(ctx context.Context, databaseID string, cfg *types.Config, opts InitOptions) (Clients, error) {
	dest := notion.NewClient(notion.Options{
		BaseURL:    opts.NotionBaseURL,
		Token:      cfg.NotionToken,
		HTTPClient: opts.HTTPClient,
	})
	if err := Probe(ctx, dest, databaseID); err != nil {
		return Clients{}, err
	}
	fetcher := TrackingFetcher{Client: tracking.NewClient(tracking.Options{
		BaseURL:    opts.TrackingBaseURL,
		APIKey:     opts.TrackingAPIKey,
		HTTPClient: opts.HTTPClient,
	})}
	return Clients{Destination: dest, Runs: fetcher}, nil
}

// Probe checks that the database exists and is reachable with the token.
func Probe(ctx context.Context, dest Destination, databaseID string) error {
	if _, err := dest.RetrieveDatabase(ctx, databaseID); err != nil {
		return &notion.Error{Op: "access database " + databaseID, Err: err}
	}
	return nil
}
