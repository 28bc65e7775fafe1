package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bookery/bookery-service/internal/errs"
	"github.com/bookery/bookery-service/internal/model"
	"github.com/bookery/bookery-service/pkg/circuit_breaker"
	"github.com/bookery/bookery-service/pkg/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// MaxResults bounds one keyword search against the upstream.
	MaxResults        = 24
	defaultMaxResults = 10
)

type Config struct {
	BaseURL string        `envconfig:"CATALOG_BASE_URL" default:"https://www.googleapis.com/books/v1"`
	APIKey  string        `envconfig:"CATALOG_API_KEY"`
	RPS     rate.Limit    `envconfig:"CATALOG_RPS" default:"20"`
	Timeout time.Duration `envconfig:"CATALOG_TIMEOUT" default:"15s"`
}

// Client is the read-only catalog access layer. All calls are rate limited
// and guarded by a circuit breaker; a non-success upstream response surfaces
// as *errs.UpstreamError unless the upstream explicitly reports not-found.
type Client struct {
	log     *zap.Logger
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter
	cb      circuit_breaker.CircuitBreaker
}

func NewClient(log *zap.Logger, cfg Config) *Client {
	return &Client{
		log:     log.Named("catalog"),
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.RPS, int(cfg.RPS)),
		cb:      circuit_breaker.New(20, 10*time.Second, 0.5, 3),
	}
}

// upstream wire shapes; every field may be absent.
type volumeInfo struct {
	Title         string     `json:"title"`
	Authors       []string   `json:"authors"`
	Description   string     `json:"description"`
	ImageLinks    imageLinks `json:"imageLinks"`
	PublishedDate string     `json:"publishedDate"`
	PageCount     int        `json:"pageCount"`
	Categories    []string   `json:"categories"`
	Publisher     string     `json:"publisher"`
	Language      string     `json:"language"`
}

type imageLinks struct {
	ExtraLarge     string `json:"extraLarge"`
	Large          string `json:"large"`
	Medium         string `json:"medium"`
	Small          string `json:"small"`
	Thumbnail      string `json:"thumbnail"`
	SmallThumbnail string `json:"smallThumbnail"`
}

type volume struct {
	ID         string     `json:"id"`
	VolumeInfo volumeInfo `json:"volumeInfo"`
}

type volumeList struct {
	Items []volume `json:"items"`
}

func (c *Client) GetBook(ctx context.Context, catalogID string) (model.BookRecord, error) {
	catalogID = strings.TrimSpace(catalogID)
	if catalogID == "" {
		return model.BookRecord{}, errors.New("empty catalogId")
	}

	u := fmt.Sprintf("%s/volumes/%s", c.cfg.BaseURL, url.PathEscape(catalogID))
	if c.cfg.APIKey != "" {
		u += "?key=" + url.QueryEscape(c.cfg.APIKey)
	}

	var vol volume
	if err := c.do(ctx, "get", u, &vol); err != nil {
		return model.BookRecord{}, err
	}

	return newBookRecord(vol), nil
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]model.BookSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.ErrBadQuery
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > MaxResults {
		maxResults = MaxResults
	}

	u := fmt.Sprintf("%s/volumes?q=%s&maxResults=%d", c.cfg.BaseURL, url.QueryEscape(query), maxResults)
	if c.cfg.APIKey != "" {
		u += "&key=" + url.QueryEscape(c.cfg.APIKey)
	}

	var list volumeList
	if err := c.do(ctx, "search", u, &list); err != nil {
		return nil, err
	}

	items := make([]model.BookSummary, 0, len(list.Items))
	for _, vol := range list.Items {
		items = append(items, model.BookSummary{
			CatalogID:  vol.ID,
			Title:      titleOrDefault(vol.VolumeInfo.Title),
			Authors:    authorsOrDefault(vol.VolumeInfo.Authors),
			CoverImage: bestCover(vol.VolumeInfo.ImageLinks),
		})
	}
	return items, nil
}

func (c *Client) do(ctx context.Context, op, u string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	started := time.Now()
	err := c.cb.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return errs.ErrNotFound
		}
		if resp.StatusCode >= 300 {
			return &errs.UpstreamError{Status: resp.StatusCode}
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
	metrics.CatalogRequestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		metrics.CatalogRequests.WithLabelValues(op, "ok").Inc()
		return nil
	case errors.Is(err, errs.ErrNotFound):
		metrics.CatalogRequests.WithLabelValues(op, "not_found").Inc()
		return err
	case errors.Is(err, circuit_breaker.ErrOpenCB):
		metrics.CatalogRequests.WithLabelValues(op, "error").Inc()
		return &errs.UpstreamError{Status: http.StatusServiceUnavailable}
	case errs.IsUpstream(err):
		metrics.CatalogRequests.WithLabelValues(op, "error").Inc()
		return err
	default:
		metrics.CatalogRequests.WithLabelValues(op, "error").Inc()
		c.log.Warn("catalog request", zap.String("op", op), zap.Error(err))
		return &errs.UpstreamError{Status: http.StatusBadGateway}
	}
}

func newBookRecord(vol volume) model.BookRecord {
	info := vol.VolumeInfo
	rec := model.BookRecord{
		CatalogID:     vol.ID,
		Title:         titleOrDefault(info.Title),
		Authors:       authorsOrDefault(info.Authors),
		Description:   info.Description,
		CoverImage:    bestCover(info.ImageLinks),
		PublishedDate: info.PublishedDate,
		Categories:    info.Categories,
		Publisher:     info.Publisher,
		Language:      info.Language,
	}
	if rec.Categories == nil {
		rec.Categories = []string{}
	}
	if info.PageCount > 0 {
		pages := info.PageCount
		rec.PageCount = &pages
	}
	return rec
}

func titleOrDefault(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}

func authorsOrDefault(authors []string) []string {
	if authors == nil {
		return []string{}
	}
	return authors
}

var (
	schemeRe = regexp.MustCompile(`(?i)^http://`)
	zoomRe   = regexp.MustCompile(`(?i)zoom=\d+`)
)

// bestCover picks the highest-resolution image link, forces https and pins
// the catalog CDN zoom parameter so covers render at a consistent size.
func bestCover(links imageLinks) string {
	img := links.ExtraLarge
	for _, candidate := range []string{links.Large, links.Medium, links.Small, links.Thumbnail, links.SmallThumbnail} {
		if img != "" {
			break
		}
		img = candidate
	}
	if img == "" {
		return ""
	}

	u := schemeRe.ReplaceAllString(img, "https://")

	if strings.Contains(u, "books.google.com/books/content") {
		if zoomRe.MatchString(u) {
			u = zoomRe.ReplaceAllString(u, "zoom=5")
		} else if strings.Contains(u, "?") {
			u += "&zoom=5"
		} else {
			u += "?zoom=5"
		}
	}

	return u
}
