package fetch

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/nkamali/faro/internal/pipeline"
)

// Headless renders pages in a headless browser before extraction, for sites
// that assemble their content client-side. It wraps the plain HTTP fetcher:
// the browser only supplies the HTML, extraction and caching are shared.
type Headless struct {
	inner   *HTTP
	timeout time.Duration
	logger  *log.Logger
}

func NewHeadless(inner *HTTP, timeout time.Duration) *Headless {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Headless{
		inner:   inner,
		timeout: timeout,
		logger:  log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
	}
}

// Fetch implements pipeline.Fetcher. A browser failure falls back to the
// plain HTTP fetcher rather than dropping the URL outright.
func (h *Headless) Fetch(ctx context.Context, rawURL string) (*pipeline.Page, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !strings.HasPrefix(rawURL, "http") {
		return nil, nil
	}
	if page := h.inner.cached(ctx, rawURL); page != nil {
		return page, nil
	}

	html, err := h.render(ctx, rawURL)
	if err != nil {
		h.logger.Printf("headless render %s: %v, falling back to http", rawURL, err)
		return h.inner.Fetch(ctx, rawURL)
	}
	page := h.inner.extract(rawURL, html)
	if page == nil {
		return nil, nil
	}
	h.inner.store(ctx, rawURL, page)
	return page, nil
}

func (h *Headless) render(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(h.inner.opts.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
