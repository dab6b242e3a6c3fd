// Package inline rewrites a rendered document so every image, stylesheet
// and script it references is embedded as a base64 data URI.
package inline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"papersnap/internal/capture"
)

const (
	DefaultWorkers      = 32
	DefaultFetchTimeout = 10 * time.Second
	defaultUserAgent    = "papersnap/1.0"
)

var ErrResourceFetch = errors.New("resource fetch failed")

// FetchError names the resource that aborted inlining.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %v", ErrResourceFetch, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrResourceFetch }

// Kind is the resource class a tag belongs to.
type Kind string

const (
	KindImage      Kind = "image"
	KindStylesheet Kind = "stylesheet"
	KindScript     Kind = "script"
)

type rule struct {
	kind     Kind
	selector string
	attr     string
	fallback string
}

var rules = []rule{
	{KindImage, "img[src]", "src", "image/png"},
	{KindStylesheet, `link[rel~="stylesheet"][href]`, "href", "text/css"},
	{KindScript, "script[src]", "src", "application/javascript"},
}

// Resource is one distinct external reference found in a document.
type Resource struct {
	Original string
	Absolute string
	Kind     Kind
	DataURI  string
}

// Stats summarizes one Inline call.
type Stats struct {
	Occurrences int
	Unique      int
	Bytes       int64
}

type ctxKey int

const (
	ctxKeyFetchTimeout ctxKey = iota
)

// WithFetchTimeout returns a child context that overrides the per-resource fetch timeout.
func WithFetchTimeout(parent context.Context, timeout time.Duration) context.Context {
	return context.WithValue(parent, ctxKeyFetchTimeout, timeout)
}

func fetchTimeoutFromContext(ctx context.Context, fallback time.Duration) time.Duration {
	if d, ok := ctx.Value(ctxKeyFetchTimeout).(time.Duration); ok && d > 0 {
		return d
	}
	return fallback
}

// Options configures an Inliner.
type Options struct {
	Workers int
	Timeout time.Duration
	Client  *http.Client
}

// Inliner fetches resources on a bounded pool, independent of how many
// tasks run at once.
type Inliner struct {
	client  *http.Client
	workers int
	timeout time.Duration
}

func New(opts Options) *Inliner {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	return &Inliner{client: opts.Client, workers: opts.Workers, timeout: opts.Timeout}
}

// Scan lists distinct external references, images first, then stylesheets,
// then scripts. Values already in data URI form are skipped.
func Scan(tree *goquery.Document, base *url.URL) ([]Resource, int) {
	seen := make(map[string]struct{})
	var resources []Resource
	occurrences := 0
	for _, r := range rules {
		tree.Find(r.selector).Each(func(_ int, s *goquery.Selection) {
			value, ok := s.Attr(r.attr)
			if !ok || value == "" || isDataURI(value) {
				return
			}
			occurrences++
			if _, dup := seen[value]; dup {
				return
			}
			seen[value] = struct{}{}
			resources = append(resources, Resource{
				Original: value,
				Absolute: resolve(base, value),
				Kind:     r.kind,
			})
		})
	}
	return resources, occurrences
}

// Inline fetches every resource and rewrites the document in place. Any
// single failure aborts the whole call and leaves the tree untouched.
func (in *Inliner) Inline(ctx context.Context, doc *capture.Document) (Stats, error) {
	resources, occurrences := Scan(doc.Tree, doc.BaseURL)
	stats := Stats{Occurrences: occurrences, Unique: len(resources)}
	if len(resources) == 0 {
		return stats, nil
	}

	timeout := fetchTimeoutFromContext(ctx, in.timeout)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(in.workers)
	sizes := make([]int64, len(resources))
	for i := range resources {
		i := i
		group.Go(func() error {
			dataURI, n, err := in.fetch(groupCtx, resources[i], timeout)
			if err != nil {
				return &FetchError{URL: resources[i].Absolute, Err: err}
			}
			resources[i].DataURI = dataURI
			sizes[i] = n
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return stats, err //nolint:wrapcheck // FetchError already names the url
	}

	dataURIs := make(map[string]string, len(resources))
	for i, r := range resources {
		dataURIs[r.Original] = r.DataURI
		stats.Bytes += sizes[i]
	}
	Rewrite(doc.Tree, dataURIs)
	log.Debug().Int("resources", stats.Unique).Int("occurrences", stats.Occurrences).Int64("bytes", stats.Bytes).Msg("resources inlined")
	return stats, nil
}

// Rewrite replaces every matching attribute value that has a mapping.
// Values without a mapping are left as they are.
func Rewrite(tree *goquery.Document, dataURIs map[string]string) {
	for _, r := range rules {
		tree.Find(r.selector).Each(func(_ int, s *goquery.Selection) {
			value, _ := s.Attr(r.attr)
			if dataURI, ok := dataURIs[value]; ok && dataURI != "" {
				s.SetAttr(r.attr, dataURI)
			}
		})
	}
}

func (in *Inliner) fetch(ctx context.Context, r Resource, timeout time.Duration) (string, int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.Absolute, nil)
	if err != nil {
		return "", 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	httpResponse, err := in.client.Do(req)
	if err != nil {
		log.Warn().Str("url", r.Absolute).Err(err).Msg("resource request failed")
		return "", 0, err //nolint:wrapcheck
	}
	defer func() { _ = httpResponse.Body.Close() }()
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		log.Warn().Str("url", r.Absolute).Int("status", httpResponse.StatusCode).Msg("unexpected status code")
		return "", 0, fmt.Errorf("http %d", httpResponse.StatusCode)
	}
	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return "", 0, fmt.Errorf("reading body: %w", err)
	}

	contentType := ContentType(httpResponse.Header.Get("Content-Type"), r, body)
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body), int64(len(body)), nil
}

// ContentType picks the data URI media type: the response header, then the
// URL's extension, then content sniffing for images, then the class fallback.
// A charset sent with the header is kept so non UTF-8 text decodes correctly.
func ContentType(header string, r Resource, body []byte) string {
	if t := headerMediaType(header); t != "" {
		return t
	}
	if u, err := url.Parse(r.Absolute); err == nil {
		if t := baseMediaType(mime.TypeByExtension(strings.ToLower(path.Ext(u.Path)))); t != "" {
			return t
		}
	}
	if r.Kind == KindImage && len(body) > 0 {
		if detected := mimetype.Detect(body); strings.HasPrefix(detected.String(), "image/") {
			return baseMediaType(detected.String())
		}
	}
	for _, rl := range rules {
		if rl.kind == r.Kind {
			return rl.fallback
		}
	}
	return "application/octet-stream"
}

func headerMediaType(v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	mediaType, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	if cs := strings.TrimSpace(params["charset"]); cs != "" {
		return mediaType + ";charset=" + cs
	}
	return mediaType
}

func baseMediaType(v string) string {
	if strings.TrimSpace(v) == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return mediaType
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func isDataURI(v string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "data:")
}
