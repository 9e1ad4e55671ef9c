// SPDX-License-Identifier: AGPL-3.0-or-later

package tracking

import "context"

// RunIterator walks a project's runs one page at a time.
//
//	it := client.Runs(ctx, entity, project)
//	for it.Next() {
//		run := it.Run()
//	}
//	if err := it.Err(); err != nil { ... }
type RunIterator struct {
	ctx     context.Context
	client  *Client
	entity  string
	project string

	buf    []Run
	cur    Run
	cursor string
	more   bool
	pages  int
	err    error
}

// Next advances to the next run, fetching a new page when the buffer is
// empty. It returns false at the end of the sequence or on error.
func (it *RunIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for len(it.buf) == 0 {
		if !it.more {
			return false
		}
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
		runs, next, more, err := it.client.fetchPage(it.ctx, it.entity, it.project, it.cursor)
		if err != nil {
			it.err = err
			return false
		}
		it.pages++
		it.buf = runs
		it.cursor = next
		it.more = more
	}
	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Run returns the run at the current position.
func (it *RunIterator) Run() Run {
	return it.cur
}

// Err returns the error that stopped iteration, if any.
func (it *RunIterator) Err() error {
	return it.err
}

// Pages reports how many pages have been fetched so far.
func (it *RunIterator) Pages() int {
	return it.pages
}
