package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Item is one model entry in the upstream provider's catalog.
type Item struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Page is one page of the upstream listing.
type Page struct {
	Items   []Item
	HasMore bool
	Cursor  string // continuation cursor for the next page
}

type listResponse struct {
	Data    []Item `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id"`
}

// Client fetches the upstream model catalog through its cursor-paginated
// listing endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, pageSize int, timeout time.Duration) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListPage fetches a single page. An empty cursor starts from the beginning.
func (c *Client) ListPage(ctx context.Context, cursor string) (*Page, error) {
	u, err := url.Parse(c.baseURL + "/v1/models")
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("after_id", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream catalog fetch failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream catalog returned status %d", resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode upstream catalog page: %w", err)
	}

	return &Page{
		Items:   body.Data,
		HasMore: body.HasMore,
		Cursor:  body.LastID,
	}, nil
}

// Pager walks the listing lazily, one page at a time, so the catalog is never
// materialized eagerly. Next returns nil once the listing is exhausted.
type Pager struct {
	client *Client
	cursor string
	done   bool
}

func (c *Client) Pages() *Pager {
	return &Pager{client: c}
}

func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}
	page, err := p.client.ListPage(ctx, p.cursor)
	if err != nil {
		return nil, err
	}
	if !page.HasMore || page.Cursor == "" {
		p.done = true
	}
	p.cursor = page.Cursor
	return page, nil
}
