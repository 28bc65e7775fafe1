package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bookery/bookery-service/internal/model"
	"github.com/pkg/errors"
)

// HTTPSources queries a running bookery server's read-only search endpoints.
// It implements both BookSource and UserSource.
type HTTPSources struct {
	base   string
	client *http.Client
}

func NewHTTPSources(baseURL string) *HTTPSources {
	return &HTTPSources{
		base:   baseURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSources) SearchBooks(ctx context.Context, query string) ([]model.BookSummary, error) {
	var resp struct {
		Items []model.BookSummary `json:"items"`
	}
	u := fmt.Sprintf("%s/api/v1/books/search?q=%s", s.base, url.QueryEscape(query))
	if err := s.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (s *HTTPSources) SearchUsers(ctx context.Context, query string) ([]model.UserSummary, error) {
	var resp struct {
		Users []model.UserSummary `json:"users"`
	}
	u := fmt.Sprintf("%s/api/v1/users/search?q=%s", s.base, url.QueryEscape(query))
	if err := s.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (s *HTTPSources) get(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errors.Errorf("search endpoint: status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
