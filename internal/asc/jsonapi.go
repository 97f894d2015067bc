package asc

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/valpere/storetran/internal/apierr"
)

// Page is one page of a cursor-paginated collection. NextCursor is empty on
// the last page; callers pass it back to fetch the next one.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

type Links struct {
	Self string `json:"self,omitempty"`
	Next string `json:"next,omitempty"`
}

type resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id,omitempty"`
	Attributes    json.RawMessage         `json:"attributes,omitempty"`
	Relationships map[string]relationship `json:"relationships,omitempty"`
}

type relationship struct {
	Data *resourceRef `json:"data"`
}

type resourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type listDocument struct {
	Data  []resource `json:"data"`
	Links Links      `json:"links"`
}

type singleDocument struct {
	Data resource `json:"data"`
}

// cursorFromNext extracts the "cursor" query parameter of a links.next URL.
func cursorFromNext(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	return u.Query().Get("cursor")
}

// PageQuery builds the query for one page request. Limit is clamped to 1..200.
func PageQuery(limit int, cursor string) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(min(max(limit, 1), 200)))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return q
}

// getPage fetches one collection page and decodes each item with decode.
func getPage[T any](ctx context.Context, c *Client, path string, query url.Values, decode func(resource) (T, error)) (Page[T], error) {
	var doc listDocument
	if err := c.do(ctx, "GET", path, query, nil, &doc); err != nil {
		return Page[T]{}, err
	}
	page := Page[T]{
		Items:      make([]T, 0, len(doc.Data)),
		NextCursor: cursorFromNext(doc.Links.Next),
	}
	for _, r := range doc.Data {
		item, err := decode(r)
		if err != nil {
			return Page[T]{}, &apierr.FormatError{Service: serviceName, Detail: "decode " + r.Type, Err: err}
		}
		page.Items = append(page.Items, item)
	}
	return page, nil
}

// getAll follows cursors until the collection is exhausted.
func getAll[T any](ctx context.Context, c *Client, path string, decode func(resource) (T, error)) ([]T, error) {
	var all []T
	cursor := ""
	for {
		page, err := getPage(ctx, c, path, PageQuery(200, cursor), decode)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// decodeAttrs unmarshals a resource's attributes into T.
func decodeAttrs[T any](r resource, fill func(id string, attrs T) T) (T, error) {
	var attrs T
	if len(r.Attributes) > 0 {
		if err := json.Unmarshal(r.Attributes, &attrs); err != nil {
			return attrs, err
		}
	}
	return fill(r.ID, attrs), nil
}
