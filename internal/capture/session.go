// Package capture drives a browser profile with the translation extension
// loaded and hands back the rendered page.
package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	fileutil "papersnap/internal/file"
)

const (
	defaultNavigationTimeout  = 2 * time.Minute
	defaultTranslationTimeout = 20 * time.Minute
	closeTimeout              = 10 * time.Second

	// DefaultTranslationMarker is the spinner the translation extension keeps
	// in the DOM while it is still working.
	DefaultTranslationMarker = "font.immersive-translate-loading-spinner.notranslate"

	// serializeDocument keeps the doctype, which outerHTML of the root drops.
	serializeDocument = `(document.doctype ? new XMLSerializer().serializeToString(document.doctype) : '') + document.documentElement.outerHTML`
)

// Session is one browser context owned by one pipeline run.
type Session interface {
	Navigate(ctx context.Context, target string) (Page, error)
	WaitTranslated(ctx context.Context) error
	Content(ctx context.Context) (string, error)
	Close() error
}

// Launcher opens sessions.
type Launcher interface {
	Open(ctx context.Context) (Session, error)
}

// ChromeOptions configures ChromeLauncher.
type ChromeOptions struct {
	ProfileDir         string
	ExtensionDir       string
	StorageDir         string
	NavigationTimeout  time.Duration
	TranslationTimeout time.Duration
	TranslationMarker  string
}

// ChromeLauncher starts Chrome through chromedp with a persistent profile.
type ChromeLauncher struct {
	opts ChromeOptions
}

func NewChromeLauncher(opts ChromeOptions) *ChromeLauncher {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaultNavigationTimeout
	}
	if opts.TranslationTimeout <= 0 {
		opts.TranslationTimeout = defaultTranslationTimeout
	}
	if opts.TranslationMarker == "" {
		opts.TranslationMarker = DefaultTranslationMarker
	}
	return &ChromeLauncher{opts: opts}
}

// CheckDirectories verifies the profile, extension and library storage
// directories exist, in that order.
func CheckDirectories(profileDir, extensionDir, storageDir string) error {
	for _, d := range []struct{ kind, path string }{
		{"browser profile", profileDir},
		{"extension", extensionDir},
		{"library storage", storageDir},
	} {
		if d.path == "" || !fileutil.Exists(d.path) {
			return &MissingDirectoryError{Kind: d.kind, Path: d.path}
		}
	}
	return nil
}

// Open launches the browser. The first chromedp context attaches to the tab
// the browser opens on start, so an already-open page is reused.
func (l *ChromeLauncher) Open(ctx context.Context) (Session, error) {
	if err := CheckDirectories(l.opts.ProfileDir, l.opts.ExtensionDir, l.opts.StorageDir); err != nil {
		return nil, err
	}
	extension, err := filepath.Abs(l.opts.ExtensionDir)
	if err != nil {
		return nil, fmt.Errorf("resolve extension path: %w", err)
	}

	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(l.opts.ProfileDir),
		// the new headless mode renders like a visible window and runs extensions
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-extensions", false),
		chromedp.Flag("disable-extensions-except", extension),
		chromedp.Flag("load-extension", extension),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, allocatorOptions...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(func(format string, args ...any) { log.Debug().Msgf(format, args...) }),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	log.Debug().Str("profile", l.opts.ProfileDir).Str("extension", extension).Msg("browser started")

	return &chromeSession{
		browserCtx:         browserCtx,
		browserCancel:      browserCancel,
		allocatorCancel:    allocatorCancel,
		navigationTimeout:  l.opts.NavigationTimeout,
		translationTimeout: l.opts.TranslationTimeout,
		marker:             l.opts.TranslationMarker,
	}, nil
}

type chromeSession struct {
	browserCtx         context.Context
	browserCancel      context.CancelFunc
	allocatorCancel    context.CancelFunc
	navigationTimeout  time.Duration
	translationTimeout time.Duration
	marker             string
	closeOnce          sync.Once
	closeErr           error
}

// scoped derives a chromedp context bounded by timeout that is also
// cancelled when the caller's ctx is.
func (s *chromeSession) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	scopedCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return scopedCtx, func() {
		stop()
		cancel()
	}
}

// Navigate opens target and waits for the network to go idle.
func (s *chromeSession) Navigate(ctx context.Context, target string) (Page, error) {
	navCtx, done := s.scoped(ctx, s.navigationTimeout)
	defer done()

	idle := make(chan cdp.LoaderID, 32)
	chromedp.ListenTarget(navCtx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- e.LoaderID:
			default:
			}
		}
	})

	var loaderID cdp.LoaderID
	err := chromedp.Run(navCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, id, errorText, err := page.Navigate(target).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return errors.New(errorText)
			}
			loaderID = id
			return nil
		}),
	)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %s: %w", ErrNavigationFailed, target, err)
	}

	for waiting := true; waiting; {
		select {
		case id := <-idle:
			waiting = id != loaderID
		case <-navCtx.Done():
			return Page{}, fmt.Errorf("%w: %s: waiting for network idle: %w", ErrNavigationFailed, target, navCtx.Err())
		}
	}

	var title, location string
	if err := chromedp.Run(navCtx, chromedp.Title(&title), chromedp.Location(&location)); err != nil {
		return Page{}, fmt.Errorf("%w: %s: read title: %w", ErrNavigationFailed, target, err)
	}
	return Page{Title: CleanTitle(title), URL: location}, nil
}

// WaitTranslated blocks until the translation marker is detached.
func (s *chromeSession) WaitTranslated(ctx context.Context) error {
	waitCtx, done := s.scoped(ctx, s.translationTimeout)
	defer done()

	err := chromedp.Run(waitCtx, chromedp.WaitNotPresent(s.marker, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTranslationTimeout, s.translationTimeout)
	}
	return fmt.Errorf("wait for translation: %w", err)
}

// Content serializes the live DOM.
func (s *chromeSession) Content(ctx context.Context) (string, error) {
	readCtx, done := s.scoped(ctx, s.navigationTimeout)
	defer done()

	var html string
	if err := chromedp.Run(readCtx, chromedp.Evaluate(serializeDocument, &html)); err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return html, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(s.browserCtx, closeTimeout)
		defer cancel()
		if err := chromedp.Cancel(closeCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		s.browserCancel()
		s.allocatorCancel()
	})
	return s.closeErr
}
