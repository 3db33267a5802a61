package rest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// Paginator produces the requests for successive pages of a listing.
type Paginator interface {
	// First returns the request for the first page.
	First() *Request

	// Next returns the request for the page after resp, which held n
	// items, or nil when the listing is exhausted.
	Next(resp *Response, n int) *Request
}

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q)+2)
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// PagePaginator walks page/per_page listings. The next page comes from the
// X-Next-Page header when the server sends it; otherwise a full page means
// there may be another.
type PagePaginator struct {
	Path    string
	Query   url.Values
	PerPage int
	page    int
}

// NewPagePaginator creates a page-number paginator.
func NewPagePaginator(path string, query url.Values, perPage int) *PagePaginator {
	return &PagePaginator{Path: path, Query: query, PerPage: perPage, page: 1}
}

// First returns the request for page 1.
func (p *PagePaginator) First() *Request {
	p.page = 1
	return p.request()
}

// Next returns the request for the following page.
func (p *PagePaginator) Next(resp *Response, n int) *Request {
	if n == 0 {
		return nil
	}
	if values, ok := resp.Header["X-Next-Page"]; ok {
		if len(values) == 0 || values[0] == "" {
			return nil
		}
		next, err := strconv.Atoi(values[0])
		if err != nil || next <= p.page {
			return nil
		}
		p.page = next
		return p.request()
	}
	if n < p.PerPage {
		return nil
	}
	p.page++
	return p.request()
}

func (p *PagePaginator) request() *Request {
	q := cloneQuery(p.Query)
	q.Set("page", strconv.Itoa(p.page))
	q.Set("per_page", strconv.Itoa(p.PerPage))
	return &Request{Path: p.Path, Query: q}
}

// OffsetPaginator walks startAt/maxResults listings whose body reports
// the total, as Jira's search does.
type OffsetPaginator struct {
	Path      string
	Query     url.Values
	Limit     int
	OffsetKey string
	LimitKey  string
	TotalKey  string
	offset    int
}

// NewOffsetPaginator creates an offset paginator with Jira's parameter names.
func NewOffsetPaginator(path string, query url.Values, limit int) *OffsetPaginator {
	return &OffsetPaginator{
		Path:      path,
		Query:     query,
		Limit:     limit,
		OffsetKey: "startAt",
		LimitKey:  "maxResults",
		TotalKey:  "total",
	}
}

// First returns the request for offset 0.
func (p *OffsetPaginator) First() *Request {
	p.offset = 0
	return p.request()
}

// Next advances the offset by n and stops once total is reached.
func (p *OffsetPaginator) Next(resp *Response, n int) *Request {
	if n == 0 {
		return nil
	}
	p.offset += n

	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil
	}
	var total int
	if raw, ok := body[p.TotalKey]; ok {
		if err := json.Unmarshal(raw, &total); err != nil {
			return nil
		}
	}
	if p.offset >= total {
		return nil
	}
	return p.request()
}

func (p *OffsetPaginator) request() *Request {
	q := cloneQuery(p.Query)
	q.Set(p.OffsetKey, strconv.Itoa(p.offset))
	q.Set(p.LimitKey, strconv.Itoa(p.Limit))
	return &Request{Path: p.Path, Query: q}
}

// SinglePage is a listing returned in one response.
type SinglePage struct {
	Path  string
	Query url.Values
}

// First returns the only request.
func (p SinglePage) First() *Request {
	return &Request{Path: p.Path, Query: cloneQuery(p.Query)}
}

// Next always returns nil.
func (p SinglePage) Next(*Response, int) *Request {
	return nil
}

// Items extracts the result array from a page body: the body itself when
// it is an array, else the array under key.
func Items(body []byte, key string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("page is neither an array nor an object: %w", err)
	}
	if key == "" {
		return nil, fmt.Errorf("page is an object and no results key is set")
	}
	raw, ok := obj[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("results key %q: %w", key, err)
	}
	return items, nil
}
