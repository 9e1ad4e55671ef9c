// SPDX-License-Identifier: AGPL-3.0-or-later

package notion

// Property types used by the sync.
const (
	PropertyTitle    = "title"
	PropertyRichText = "rich_text"
	PropertyDate     = "date"
)

// Text is the text payload of a rich-text run.
type Text struct {
	Content string `json:"content"`
}

// RichText is one run of a title or rich_text property.
type RichText struct {
	Type      string `json:"type,omitempty"`
	Text      *Text  `json:"text,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
}

// Content returns the run's text content, falling back to its plain text for
// non-text runs such as mentions.
func (r RichText) Content() string {
	if r.Text != nil {
		return r.Text.Content
	}
	return r.PlainText
}

// DateValue is the payload of a date property.
type DateValue struct {
	Start string  `json:"start"`
	End   *string `json:"end,omitempty"`
}

// PropertyValue is a page property as read from or written to a database.
// Only the field matching Type is populated.
type PropertyValue struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type,omitempty"`
	Title    []RichText `json:"title,omitempty"`
	RichText []RichText `json:"rich_text,omitempty"`
	Date     *DateValue `json:"date,omitempty"`
}

// TitleValue builds a title property holding content.
func TitleValue(content string) PropertyValue {
	return PropertyValue{Title: []RichText{{Text: &Text{Content: content}}}}
}

// RichTextValue builds a rich_text property holding content, which may be
// empty.
func RichTextValue(content string) PropertyValue {
	return PropertyValue{RichText: []RichText{{Text: &Text{Content: content}}}}
}

// DateStartValue builds a date property starting at start.
func DateStartValue(start string) PropertyValue {
	return PropertyValue{Date: &DateValue{Start: start}}
}

// Properties maps property names to values.
type Properties map[string]PropertyValue

// PropertySchema describes one column of a database.
type PropertySchema struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Database is the subset of a database object the sync inspects.
type Database struct {
	ID         string                    `json:"id"`
	Title      []RichText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

// Page is a database row.
type Page struct {
	ID         string     `json:"id"`
	Archived   bool       `json:"archived"`
	Properties Properties `json:"properties"`
}

// Parent identifies the database a new page is created in.
type Parent struct {
	DatabaseID string `json:"database_id"`
}

// CreatePageRequest is the body of a page creation.
type CreatePageRequest struct {
	Parent     Parent     `json:"parent"`
	Properties Properties `json:"properties"`
}

// QueryRequest is the body of a database query.
type QueryRequest struct {
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

// QueryResponse is one page of database query results.
type QueryResponse struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}
