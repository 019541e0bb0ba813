// Package browser renders web pages in headless Chrome for tools that need
// script-generated content, not just the raw HTML a plain GET returns.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	defaultRenderTimeout = 60 * time.Second
	settleDelay          = 500 * time.Millisecond
)

// Renderer drives a headless Chrome instance. Each HTML call uses a fresh
// browser context, so no cookies or state leak between pages.
type Renderer struct {
	timeout time.Duration
	logger  *slog.Logger
}

type RendererConfig struct {
	// Timeout bounds a single page load, scripts included.
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewRenderer(cfg RendererConfig) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRenderTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{timeout: cfg.Timeout, logger: cfg.Logger}
}

// HTML navigates to the URL, waits for the document to become ready plus a
// short settle delay for late scripts, and returns the rendered markup.
func (r *Renderer) HTML(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, r.timeout)
	defer timeoutCancel()

	r.logger.Debug("rendering page", "url", pageURL, "timeout", r.timeout)

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return html, nil
}
