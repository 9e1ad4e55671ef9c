// SPDX-License-Identifier: AGPL-3.0-or-later

package syncer

import (
	"context"

	"github.com/flowd-org/runsync/internal/notion"
)

const queryPageSize = 100

// ExistingRunIDs returns the first title text of every row in the database,
// in query order, skipping rows without a title. Duplicates are kept. The
// query follows has_more/next_cursor until the database is exhausted.
func ExistingRunIDs(ctx context.Context, dest Destination, databaseID, titleProperty string) ([]string, error) {
	var ids []string
	req := notion.QueryRequest{PageSize: queryPageSize}
	for {
		resp, err := dest.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, &notion.Error{Op: "get existing run ids", Err: err}
		}
		for _, page := range resp.Results {
			title := page.Properties[titleProperty].Title
			if len(title) == 0 {
				continue
			}
			if id := title[0].Content(); id != "" {
				ids = append(ids, id)
			}
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return ids, nil
		}
		if *resp.NextCursor == req.StartCursor {
			return nil, &notion.Error{Op: "get existing run ids", Message: "query cursor did not advance"}
		}
		req.StartCursor = *resp.NextCursor
	}
}
