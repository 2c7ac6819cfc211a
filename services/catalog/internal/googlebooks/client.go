package googlebooks

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/singleflight"

	"bookshelf/internal/util"
	"bookshelf/pkg/cache"
)

const (
	DefaultBaseURL     = "https://www.googleapis.com/books/v1/volumes"
	DefaultTimeout     = 5 * time.Second
	DefaultTTL         = 24 * time.Hour
	cacheKeyPrefix     = "metadata:"
	maxResponseBytes   = 1 << 20
	cacheWriteDeadline = 2 * time.Second
)

// Config configures the metadata client.
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds one upstream round trip.
	Timeout time.Duration
	// TTL applies to found volumes, NegativeTTL to "no match" results.
	TTL         time.Duration
	NegativeTTL time.Duration
	Cache       cache.Cache
	HTTPClient  *http.Client
}

// Client fetches volume metadata from the Google Books API. It never returns
// an error: failures are folded into Metadata.Error.
type Client struct {
	baseURL     string
	apiKey      string
	timeout     time.Duration
	ttl         time.Duration
	negativeTTL time.Duration
	cache       cache.Cache
	httpClient  *http.Client
	group       singleflight.Group
}

// NewClient constructs a metadata client.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimSpace(cfg.BaseURL),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		timeout:     cfg.Timeout,
		ttl:         cfg.TTL,
		negativeTTL: cfg.NegativeTTL,
		cache:       cfg.Cache,
		httpClient:  cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.negativeTTL <= 0 {
		c.negativeTTL = c.ttl
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// CacheKey derives the cache key of a (title, author) lookup.
func CacheKey(title, author string) string {
	sum := sha1.Sum([]byte(normalize(title) + "\x00" + normalize(author)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// FetchMetadata returns cached metadata or asks the upstream API. Concurrent
// misses for the same key share one upstream call.
func (c *Client) FetchMetadata(ctx context.Context, title, author string) Metadata {
	logger := util.LoggerFromContext(ctx)
	key := CacheKey(title, author)
	if md, ok := c.cached(ctx, key); ok {
		return md
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Detached from the caller so one cancelled request does not fail
		// the others waiting on the same key; the timeout still bounds it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		md, err := c.fetch(fetchCtx, title, author)
		if err != nil {
			logger.Warn("metadata fetch failed", "title", title, "author", author, "err", err)
			return fetchFailed(err), nil
		}
		c.store(fetchCtx, key, md)
		return md, nil
	})
	select {
	case res := <-ch:
		return res.Val.(Metadata)
	case <-ctx.Done():
		return fetchFailed(ctx.Err())
	}
}

func (c *Client) cached(ctx context.Context, key string) (Metadata, bool) {
	if c.cache == nil {
		return Metadata{}, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("metadata cache read failed", "key", key, "err", err)
		return Metadata{}, false
	}
	if !ok {
		return Metadata{}, false
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		util.LoggerFromContext(ctx).Warn("metadata cache entry unreadable", "key", key, "err", err)
		return Metadata{}, false
	}
	return md, true
}

func (c *Client) store(ctx context.Context, key string, md Metadata) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return
	}
	ttl := c.ttl
	if !md.Found() {
		ttl = c.negativeTTL
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteDeadline)
	defer cancel()
	if err := c.cache.Set(writeCtx, key, raw, ttl); err != nil {
		util.LoggerFromContext(ctx).Warn("metadata cache write failed", "key", key, "err", err)
	}
}

type volumesResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo volumeInfo `json:"volumeInfo"`
	} `json:"items"`
}

type volumeInfo struct {
	Description   *string  `json:"description"`
	PublishedDate *string  `json:"publishedDate"`
	Publisher     *string  `json:"publisher"`
	AverageRating *float64 `json:"averageRating"`
	RatingsCount  *int     `json:"ratingsCount"`
	ImageLinks    *struct {
		Thumbnail *string `json:"thumbnail"`
	} `json:"imageLinks"`
}

func (c *Client) fetch(ctx context.Context, title, author string) (Metadata, error) {
	params := url.Values{}
	params.Set("q", "intitle:"+title+"+inauthor:"+author)
	params.Set("maxResults", "1")
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Metadata{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Metadata{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Metadata{}, fmt.Errorf("upstream status %s", resp.Status)
	}
	var body volumesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return Metadata{}, fmt.Errorf("decode response: %w", err)
	}
	if body.TotalItems <= 0 || len(body.Items) == 0 {
		return notFound(), nil
	}
	return fromVolume(body.Items[0].VolumeInfo), nil
}

func fromVolume(v volumeInfo) Metadata {
	md := Metadata{
		Description:   NoDescription,
		PublishedDate: Unknown,
		Publisher:     Unknown,
		Thumbnail:     NoThumbnail,
	}
	if v.Description != nil {
		md.Description = plainText(*v.Description)
	}
	if v.PublishedDate != nil {
		md.PublishedDate = *v.PublishedDate
	}
	if v.Publisher != nil {
		md.Publisher = *v.Publisher
	}
	if v.AverageRating != nil {
		md.AverageRating = Rating{Value: *v.AverageRating, Rated: true}
	}
	if v.RatingsCount != nil {
		md.RatingsCount = *v.RatingsCount
	}
	if v.ImageLinks != nil && v.ImageLinks.Thumbnail != nil {
		md.Thumbnail = *v.ImageLinks.Thumbnail
	}
	return md
}

// plainText flattens the HTML fragments Google Books puts in descriptions.
func plainText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var b bytes.Buffer
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "br" || n.Data == "li") {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}
