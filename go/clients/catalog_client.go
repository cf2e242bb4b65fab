package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/zwl098/yusic/go/internal/models"
)

// ErrCatalogUnavailable is returned when the catalog cannot serve a request
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// DefaultCatalogURL is the upstream music catalog
const DefaultCatalogURL = "https://music-dl.sayqz.com/api"

// CatalogClient talks to the external music catalog. Every request is a GET
// on the base URL selected by the type query parameter.
type CatalogClient struct {
	*BaseClient
}

func NewCatalogClient(baseURL string) *CatalogClient {
	if baseURL == "" {
		baseURL = DefaultCatalogURL
	}
	return &CatalogClient{BaseClient: NewBaseClient(baseURL)}
}

// CatalogResponse is the catalog's envelope; Data is passed through untouched.
type CatalogResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	URL  string          `json:"url,omitempty"`
}

// Search looks up songs by keyword
func (c *CatalogClient) Search(ctx context.Context, source models.Source, keyword string, limit, page int) (*CatalogResponse, error) {
	if !source.Valid() {
		source = DefaultSource()
	}
	if limit <= 0 {
		limit = 20
	}
	if page <= 0 {
		page = 1
	}
	q := url.Values{}
	q.Set("type", "search")
	q.Set("keyword", keyword)
	q.Set("source", string(source))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))
	return c.query(ctx, q)
}

// SongURL returns the stream url for key
func (c *CatalogClient) SongURL(ctx context.Context, key models.TrackKey) (*CatalogResponse, error) {
	return c.byKey(ctx, "url", key)
}

// SongInfo returns metadata for key
func (c *CatalogClient) SongInfo(ctx context.Context, key models.TrackKey) (*CatalogResponse, error) {
	return c.byKey(ctx, "info", key)
}

// Resolve reports whether key has a playable stream
func (c *CatalogClient) Resolve(ctx context.Context, key models.TrackKey) error {
	resp, err := c.SongURL(ctx, key)
	if err != nil {
		return err
	}
	if resp.URL == "" && !hasData(resp.Data) {
		return fmt.Errorf("%w: no stream for %s", ErrCatalogUnavailable, key)
	}
	return nil
}

func (c *CatalogClient) byKey(ctx context.Context, kind string, key models.TrackKey) (*CatalogResponse, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("type", kind)
	q.Set("id", key.ID)
	q.Set("source", string(key.Source))
	return c.query(ctx, q)
}

func (c *CatalogClient) query(ctx context.Context, q url.Values) (*CatalogResponse, error) {
	body, err := c.Get(ctx, "/?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	var resp CatalogResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", ErrCatalogUnavailable, err)
	}
	if resp.Code != 0 && resp.Code != 200 {
		return nil, fmt.Errorf("%w: code %d: %s", ErrCatalogUnavailable, resp.Code, resp.Msg)
	}
	return &resp, nil
}

func hasData(data json.RawMessage) bool {
	s := string(data)
	return s != "" && s != "null" && s != `""` && s != "{}" && s != "[]"
}
