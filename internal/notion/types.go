package notion

import (
	"encoding/json"
	"fmt"
)

// Block is one content block record. Only the fields the cache layer and the
// page tree assembly look at are decoded; everything else stays in the raw
// document and is re-emitted unchanged by MarshalJSON.
type Block struct {
	Object         string `json:"object"`
	ID             string `json:"id"`
	Type           string `json:"type"`
	HasChildren    bool   `json:"has_children"`
	Archived       bool   `json:"archived"`
	CreatedTime    string `json:"created_time"`
	LastEditedTime string `json:"last_edited_time"`

	raw json.RawMessage
}

type blockFields Block

// UnmarshalJSON decodes the header fields and keeps a copy of the document.
func (b *Block) UnmarshalJSON(data []byte) error {
	var fields blockFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*b = Block(fields)
	b.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the original document when one is attached.
func (b Block) MarshalJSON() ([]byte, error) {
	if len(b.raw) > 0 {
		return b.raw, nil
	}
	return json.Marshal(blockFields(b))
}

// Raw returns the document the block was decoded from, or nil.
func (b Block) Raw() json.RawMessage {
	return b.raw
}

// Content returns the type-specific payload, e.g. the "paragraph" object of a
// paragraph block.
func (b Block) Content() (json.RawMessage, error) {
	if len(b.raw) == 0 || b.Type == "" {
		return nil, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b.raw, &doc); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", b.ID, err)
	}
	return doc[b.Type], nil
}

// File is a cover/icon reference; external covers carry a stable URL, hosted
// ones carry an expiring signed URL.
type File struct {
	Type     string    `json:"type"`
	External *FileLink `json:"external,omitempty"`
	File     *FileLink `json:"file,omitempty"`
}

// FileLink is the URL part of a File.
type FileLink struct {
	URL        string `json:"url"`
	ExpiryTime string `json:"expiry_time,omitempty"`
}

// Page is the page metadata object. LastEditedTime is the freshness oracle the
// cache compares against.
type Page struct {
	Object         string                     `json:"object"`
	ID             string                     `json:"id"`
	CreatedTime    string                     `json:"created_time"`
	LastEditedTime string                     `json:"last_edited_time"`
	Archived       bool                       `json:"archived"`
	URL            string                     `json:"url,omitempty"`
	Cover          *File                      `json:"cover,omitempty"`
	Properties     map[string]json.RawMessage `json:"properties,omitempty"`

	raw json.RawMessage
}

type pageFields Page

// UnmarshalJSON decodes the header fields and keeps a copy of the document.
func (p *Page) UnmarshalJSON(data []byte) error {
	var fields pageFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*p = Page(fields)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the original document when one is attached.
func (p Page) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	return json.Marshal(pageFields(p))
}

// Raw returns the document the page was decoded from, or nil.
func (p Page) Raw() json.RawMessage {
	return p.raw
}

// IsPage reports whether a query result is a full page object. Database
// queries may return partial objects without properties.
func (p Page) IsPage() bool {
	return (p.Object == "" || p.Object == "page") && p.Properties != nil
}

// ChildrenPage is one page of a "list children" response.
type ChildrenPage struct {
	Object     string  `json:"object"`
	Results    []Block `json:"results"`
	NextCursor string  `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// QueryPage is one page of a database query response.
type QueryPage struct {
	Object     string `json:"object"`
	Results    []Page `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// DatabaseQuery is the body of a database query request.
type DatabaseQuery struct {
	Filter      *Filter `json:"filter,omitempty"`
	Sorts       []Sort  `json:"sorts,omitempty"`
	StartCursor string  `json:"start_cursor,omitempty"`
	PageSize    int     `json:"page_size,omitempty"`
}

// Filter is the subset of the filter grammar the blog uses.
type Filter struct {
	Property string           `json:"property,omitempty"`
	Select   *EqualsCondition `json:"select,omitempty"`
	RichText *EqualsCondition `json:"rich_text,omitempty"`
	And      []Filter         `json:"and,omitempty"`
}

// EqualsCondition matches a property value exactly.
type EqualsCondition struct {
	Equals string `json:"equals"`
}

// Sort orders query results by a property.
type Sort struct {
	Property  string `json:"property"`
	Direction string `json:"direction"`
}

// PublishedPostsQuery selects pages whose stage is Published, newest first.
func PublishedPostsQuery() DatabaseQuery {
	return DatabaseQuery{
		Filter: &Filter{
			Property: "stage",
			Select:   &EqualsCondition{Equals: "Published"},
		},
		Sorts: []Sort{{Property: "date", Direction: "descending"}},
	}
}

// PostBySlugQuery selects the published page with the given slug.
func PostBySlugQuery(slug string) DatabaseQuery {
	q := PublishedPostsQuery()
	q.Filter = &Filter{
		And: []Filter{
			{Property: "stage", Select: &EqualsCondition{Equals: "Published"}},
			{Property: "slug", RichText: &EqualsCondition{Equals: slug}},
		},
	}
	return q
}
