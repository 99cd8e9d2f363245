package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	. "dashboard-feedback/internal/common"
	"dashboard-feedback/internal/models"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

const hideOverlaysScript = `(function(selectors) {
	let hidden = 0;
	selectors.forEach(function(sel) {
		document.querySelectorAll(sel).forEach(function(el) {
			if (el.hasAttribute('data-feedback-display')) return;
			el.setAttribute('data-feedback-display', el.style.display || '');
			el.style.display = 'none';
			hidden++;
		});
	});
	return hidden;
})(%s)`

const restoreOverlaysScript = `(function() {
	let restored = 0;
	document.querySelectorAll('[data-feedback-display]').forEach(function(el) {
		el.style.display = el.getAttribute('data-feedback-display');
		el.removeAttribute('data-feedback-display');
		restored++;
	});
	return restored;
})()`

// browserTab is the handful of tab operations a capture needs
type browserTab interface {
	Location(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string, res interface{}) error
	Snapshot(ctx context.Context) (html string, png []byte, err error)
}

// chromeTab drives a tab through chromedp
type chromeTab struct{}

func (chromeTab) Location(ctx context.Context) (string, error) {
	var location string
	err := chromedp.Run(ctx, chromedp.Location(&location))
	return location, err
}

func (chromeTab) Navigate(ctx context.Context, url string) error {
	return chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery))
}

func (chromeTab) Evaluate(ctx context.Context, script string, res interface{}) error {
	return chromedp.Run(ctx, chromedp.Evaluate(script, res))
}

func (chromeTab) Snapshot(ctx context.Context) (string, []byte, error) {
	var html string
	var buf []byte
	err := chromedp.Run(ctx,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.FullScreenshot(&buf, 100))
	return html, buf, err
}

// PageCapture renders the dashboard through a Chrome instance exposing the
// remote debugging protocol, and hides the widget's own elements while it
// does so. Start Chrome with --remote-debugging-port to use it.
//
// The tab is moved to the configured page before overlays are hidden;
// Render never navigates, so a reload cannot bring the widget back into
// the shot.
type PageCapture struct {
	config  *CaptureConfig
	logger  arbor.ILogger
	tab     browserTab
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

func NewPageCapture(config *CaptureConfig, logger arbor.ILogger) *PageCapture {
	debugURL := fmt.Sprintf("http://localhost:%d", config.RemoteDebugPort)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), debugURL)
	ctx, cancel := chromedp.NewContext(allocCtx)

	return newPageCapture(config, logger, chromeTab{}, ctx, func() {
		cancel()
		allocCancel()
	})
}

func newPageCapture(config *CaptureConfig, logger arbor.ILogger, tab browserTab, ctx context.Context, cancel context.CancelFunc) *PageCapture {
	return &PageCapture{
		config:  config,
		logger:  logger,
		tab:     tab,
		ctx:     ctx,
		cancel:  cancel,
		timeout: time.Duration(config.TimeoutSeconds) * time.Second,
	}
}

func (pc *PageCapture) Close() error {
	if pc.cancel != nil {
		pc.cancel()
	}
	return nil
}

// browserContext derives a browser-bound context that also ends when ctx does
func (pc *PageCapture) browserContext(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(pc.ctx, pc.timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// ensurePage navigates to the configured page unless the tab is already there
func (pc *PageCapture) ensurePage(ctx context.Context) error {
	location, err := pc.tab.Location(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page location: %w", err)
	}
	if pc.config.PageURL == "" || samePage(location, pc.config.PageURL) {
		return nil
	}

	pc.logger.Debug().Str("from", location).Str("to", pc.config.PageURL).Msg("Navigating before capture")
	if err := pc.tab.Navigate(ctx, pc.config.PageURL); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", pc.config.PageURL, err)
	}
	return nil
}

// Render takes a full-page PNG of the tab as it is. It fails if the tab is
// not on the configured page.
func (pc *PageCapture) Render(ctx context.Context) (*models.RenderedPage, error) {
	runCtx, cancel := pc.browserContext(ctx)
	defer cancel()

	location, err := pc.tab.Location(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}
	if pc.config.PageURL != "" && !samePage(location, pc.config.PageURL) {
		return nil, fmt.Errorf("tab is on %s, not %s", location, pc.config.PageURL)
	}

	html, buf, err := pc.tab.Snapshot(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}

	return &models.RenderedPage{
		PNG:  buf,
		URL:  location,
		HTML: html,
	}, nil
}

// HideOverlays brings the tab to the configured page, then hides every
// element matching the configured selectors. The restore func puts back
// each element's previous inline display value.
func (pc *PageCapture) HideOverlays(ctx context.Context) (func(context.Context) error, error) {
	selectors, err := json.Marshal(pc.config.OverlaySelectors)
	if err != nil {
		return nil, fmt.Errorf("failed to encode overlay selectors: %w", err)
	}

	runCtx, cancel := pc.browserContext(ctx)
	defer cancel()

	if err := pc.ensurePage(runCtx); err != nil {
		return nil, err
	}

	var hidden int
	if err := pc.tab.Evaluate(runCtx, fmt.Sprintf(hideOverlaysScript, selectors), &hidden); err != nil {
		return nil, fmt.Errorf("failed to hide overlays: %w", err)
	}
	pc.logger.Debug().Int("hidden", hidden).Msg("Overlay elements hidden")

	restore := func(ctx context.Context) error {
		runCtx, cancel := pc.browserContext(ctx)
		defer cancel()

		var restored int
		if err := pc.tab.Evaluate(runCtx, restoreOverlaysScript, &restored); err != nil {
			return fmt.Errorf("failed to restore overlays: %w", err)
		}
		pc.logger.Debug().Int("restored", restored).Msg("Overlay elements restored")
		return nil
	}
	return restore, nil
}

// samePage compares two URLs ignoring the fragment and a trailing slash
func samePage(a, b string) bool {
	return normalizePageURL(a) == normalizePageURL(b)
}

func normalizePageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
