// Package zotero is a small client for the Zotero Web API v3 covering the
// calls the capture pipeline needs.
package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL     = "https://api.zotero.org"
	apiVersion         = "3"
	defaultHTTPTimeout = 30 * time.Second
	pageSize           = 100
	maxErrorBody       = 2048
)

var ErrInvalidLibrary = errors.New("invalid library")

// APIError is returned for non-2xx responses.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zotero %s %s: http %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type Options struct {
	BaseURL     string
	LibraryID   string
	LibraryType string
	APIKey      string
	HTTPClient  *http.Client
}

type Client struct {
	baseURL string
	prefix  string
	apiKey  string
	http    *http.Client
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.LibraryID) == "" {
		return nil, fmt.Errorf("%w: empty library id", ErrInvalidLibrary)
	}
	var prefix string
	switch strings.ToLower(opts.LibraryType) {
	case "user", "":
		prefix = "/users/" + url.PathEscape(opts.LibraryID)
	case "group":
		prefix = "/groups/" + url.PathEscape(opts.LibraryID)
	default:
		return nil, fmt.Errorf("%w: library type %q", ErrInvalidLibrary, opts.LibraryType)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		prefix:  prefix,
		apiKey:  opts.APIKey,
		http:    opts.HTTPClient,
	}, nil
}

// Collections lists every collection in the library, following pagination.
func (c *Client) Collections(ctx context.Context) ([]Collection, error) {
	var out []Collection
	for start := 0; ; start += pageSize {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("start", strconv.Itoa(start))

		resp, err := c.do(ctx, http.MethodGet, "/collections?"+query.Encode(), nil, nil)
		if err != nil {
			return nil, err
		}
		var page []collectionEnvelope
		err = json.NewDecoder(resp.Body).Decode(&page)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode collections: %w", err)
		}
		for _, env := range page {
			out = append(out, Collection{
				Key:       env.Key,
				Name:      env.Data.Name,
				ParentKey: string(env.Data.ParentCollection),
				Deleted:   bool(env.Data.Deleted),
			})
		}

		total, _ := strconv.Atoi(resp.Header.Get("Total-Results"))
		if len(page) < pageSize || (total > 0 && start+len(page) >= total) {
			return out, nil
		}
	}
}

// CreateItems writes items in one request and returns the per-index result.
func (c *Client) CreateItems(ctx context.Context, items ...Item) (*WriteResult, error) {
	if len(items) == 0 {
		return nil, errors.New("no items to create")
	}
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/items", bytes.NewReader(body), nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result WriteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode write result: %w", err)
	}
	for idx, failure := range result.Failed {
		log.Warn().Str("index", idx).Int("code", failure.Code).Str("message", failure.Message).Msg("zotero rejected item")
	}
	return &result, nil
}

// DeleteItem removes an item, guarded by the version it was created with.
func (c *Client) DeleteItem(ctx context.Context, key string, version int) error {
	header := http.Header{}
	if version > 0 {
		header.Set("If-Unmodified-Since-Version", strconv.Itoa(version))
	}
	resp, err := c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(key), nil, header)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, header http.Header) (*http.Response, error) {
	fullPath := c.prefix + path
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+fullPath, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Zotero-API-Version", apiVersion)
	if c.apiKey != "" {
		req.Header.Set("Zotero-API-Key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zotero %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}
