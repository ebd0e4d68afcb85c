package adapters

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"kbetl/internal/kberr"
)

// renderTimeout bounds one headless-browser page load; JS-heavy pages
// that need longer than this are not worth blocking an ingest worker for.
const renderTimeout = 20 * time.Second

// renderHTML fetches address through a headless browser so JS-heavy pages
// deliver their hydrated DOM instead of an empty shell. It is the first
// link of the web adapter's fetch chain when the source asks for a
// rendered fetch; callers fall through to the plain HTTP path when it
// errors (no Chrome on the host, navigation failure, timeout).
func renderHTML(ctx context.Context, address, userAgent string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	renderCtx, cancelCtx := chromedp.NewContext(allocCtx)
	defer cancelCtx()

	renderCtx, cancelTimeout := context.WithTimeout(renderCtx, renderTimeout)
	defer cancelTimeout()

	var htmlContent string
	err := chromedp.Run(renderCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			headers := map[string]interface{}{
				"User-Agent":      userAgent,
				"Accept-Language": "en-US,en;q=0.9",
			}
			return network.SetExtraHTTPHeaders(network.Headers(headers)).Do(ctx)
		}),
		chromedp.Navigate(address),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &htmlContent),
	)
	if err != nil {
		return "", kberr.Wrap(kberr.Transient, err, "web adapter: render %s", address)
	}
	if strings.TrimSpace(htmlContent) == "" {
		return "", kberr.Newf(kberr.DataError, "web adapter: render %s produced an empty document", address)
	}
	return htmlContent, nil
}
