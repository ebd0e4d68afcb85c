package adapters

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/cenkalti/backoff/v5"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"kbetl/internal/kberr"
	"kbetl/internal/model"
)

func init() { Register(model.SourceWeb, newWebAdapter()) }

// webAdapter fetches pages for a web source through a three-stage
// fallback chain: a headless-browser render for JS-heavy pages when
// StealthMode asks for it, a plain HTTP GET whose main content is
// extracted with Readability and converted to Markdown, and a raw-HTML
// pass-through when neither yields anything worth keeping.
type webAdapter struct {
	client *http.Client
	uaList []string
	robots *robotsCache
}

func newWebAdapter() *webAdapter {
	dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &webAdapter{
		robots: newRobotsCache(),
		client: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		uaList: []string{
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
		},
	}
}

const maxWebBytes = 20 * 1000 * 1000

func (w *webAdapter) Validate(ctx context.Context, src model.Source) error {
	u, err := url.Parse(src.Reference)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return kberr.Newf(kberr.InvalidArgument, "web source reference must be an http(s) URL, got %q", src.Reference)
	}
	return src.Config.Web.Validate()
}

func (w *webAdapter) Probe(ctx context.Context, src model.Source) (model.ProbeResult, error) {
	cfg := src.Config.Web
	pages := cfg.MaxPages
	if pages <= 0 {
		pages = 1
	}
	return model.ProbeResult{EstimatedPages: pages, ContentKind: "text/html"}, nil
}

// Fetch walks the configured pages breadth-first. scrape, map, search and
// extract fetch only the reference URL; crawl also follows the same-host
// links discovered on each fetched page, up to MaxDepth link hops from the
// reference URL. Every method stops after MaxPages documents.
func (w *webAdapter) Fetch(ctx context.Context, src model.Source, sink model.Sink, checkpoint model.CheckpointToken) (model.FetchResult, error) {
	cfg := src.Config.Web
	limiter := rate.NewLimiter(requestRate(cfg.RequestDelayMS), 1)

	type queued struct {
		url   string
		depth int
	}
	result := model.FetchResult{}
	visited := map[string]bool{}
	queue := []queued{{url: src.Reference}}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	for len(queue) > 0 && result.DocumentsFetched < maxPages {
		item := queue[0]
		queue = queue[1:]
		u := item.url
		if visited[u] {
			continue
		}
		visited[u] = true

		if err := limiter.Wait(ctx); err != nil {
			return result, kberr.Wrap(kberr.Transient, err, "web adapter: rate limiter")
		}

		if cfg.RespectRobots && !w.robots.allowed(ctx, w.client, u) {
			result.Errors = append(result.Errors, kberr.Newf(kberr.Forbidden, "web adapter: %s disallowed by robots.txt", u))
			continue
		}

		pageHTML, finalURL, err := w.fetchPage(ctx, u, cfg)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}

		content, mime := extractPage(pageHTML, finalURL)
		doc := model.RawDocument{
			SourceID:   src.ID,
			ExternalID: finalURL,
			URI:        finalURL,
			MIME:       mime,
			Bytes:      []byte(content),
			FetchedAt:  time.Now(),
		}
		if err := sink.Accept(doc, model.CheckpointToken(finalURL)); err != nil {
			return result, kberr.Wrap(kberr.Transient, err, "web adapter: sink rejected %s", finalURL)
		}
		result.DocumentsFetched++
		result.LastCheckpoint = model.CheckpointToken(finalURL)

		if cfg.Method == model.WebMethodCrawl && item.depth < cfg.MaxDepth {
			for _, link := range discoverLinks(pageHTML, finalURL, cfg.IncludePatterns, cfg.ExcludePatterns) {
				if !visited[link] {
					queue = append(queue, queued{url: link, depth: item.depth + 1})
				}
			}
		}
	}
	return result, nil
}

func requestRate(delayMS int) rate.Limit {
	if delayMS <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Duration(delayMS) * time.Millisecond)
}

// fetchPage walks the fetch chain for one URL: a headless-browser
// render when StealthMode asks for one, then the plain HTTP path. A
// failed render falls through rather than failing the page - the plain
// GET frequently succeeds where a browser on the host does not exist.
func (w *webAdapter) fetchPage(ctx context.Context, rawURL string, cfg model.WebSourceConfig) (pageHTML, finalURL string, err error) {
	if cfg.StealthMode {
		if rendered, rerr := renderHTML(ctx, rawURL, w.uaList[0]); rerr == nil {
			return rendered, rawURL, nil
		}
	}
	return w.fetchWithRetry(ctx, rawURL)
}

// fetchWithRetry wraps the plain HTTP GET in cenkalti/backoff's
// exponential retry; 4xx responses are permanent, everything else is
// worth another attempt.
func (w *webAdapter) fetchWithRetry(ctx context.Context, rawURL string) (html, finalURL string, err error) {
	type fetched struct{ html, finalURL string }
	res, err := backoff.Retry(ctx, func() (fetched, error) {
		h, f, ferr := w.fetchOnce(ctx, rawURL)
		if ferr != nil {
			return fetched{}, ferr
		}
		return fetched{html: h, finalURL: f}, nil
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return "", "", kberr.Wrap(kberr.Transient, err, "web adapter: fetch %s", rawURL)
	}
	return res.html, res.finalURL, nil
}

func (w *webAdapter) fetchOnce(ctx context.Context, rawURL string) (html, finalURL string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", w.uaList[int(time.Now().UnixNano())%len(w.uaList)])
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", "", fmt.Errorf("web adapter: %s returned %d", rawURL, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return "", "", backoff.Permanent(fmt.Errorf("web adapter: %s returned %d", rawURL, resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, maxWebBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", "", err
	}
	if int64(len(body)) > maxWebBytes {
		return "", "", backoff.Permanent(fmt.Errorf("web adapter: %s exceeds %d bytes", rawURL, maxWebBytes))
	}

	_, cs := parseContentType(resp.Header.Get("Content-Type"))
	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return "", "", err
	}
	return string(utf8Body), resp.Request.URL.String(), nil
}

// extractPage is the chain's remaining links: Readability main-content
// extraction, Markdown conversion of whatever that leaves, and a raw-HTML
// pass-through when the conversion produces nothing. Markdown keeps
// tables and fenced code first-class for the downstream parser.
func extractPage(pageHTML, pageURL string) (content, mime string) {
	base, _ := url.Parse(pageURL)
	articleHTML, title := pageHTML, ""
	if art, err := readability.FromReader(strings.NewReader(pageHTML), base); err == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML, title = art.Content, strings.TrimSpace(art.Title)
	}
	md, err := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(pageURL)))
	if err != nil || strings.TrimSpace(md) == "" {
		return articleHTML, "text/html"
	}
	if title != "" && !strings.HasPrefix(md, "# ") {
		md = "# " + title + "\n\n" + md
	}
	return md, "text/markdown"
}

func baseOrigin(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func parseContentType(header string) (ct, cs string) {
	ct = header
	if i := strings.Index(header, ";"); i >= 0 {
		ct = strings.TrimSpace(header[:i])
		if j := strings.Index(header[i:], "charset="); j >= 0 {
			cs = strings.Trim(header[i+j+len("charset="):], `" `)
		}
	}
	if ct == "" {
		ct = "text/html"
	}
	return ct, cs
}

func toUTF8(body []byte, declaredCharset string) ([]byte, error) {
	if declaredCharset != "" && strings.EqualFold(declaredCharset, "utf-8") {
		return body, nil
	}
	contentType := "text/html"
	if declaredCharset != "" {
		contentType += "; charset=" + declaredCharset
	}
	decoded, err := charset.NewReader(strings.NewReader(string(body)), contentType)
	if err != nil {
		return body, nil
	}
	out, err := io.ReadAll(decoded)
	if err != nil {
		return body, nil
	}
	return out, nil
}

// discoverLinks is a minimal same-host link extractor for the crawl
// method. It does not consult robots.txt (Fetch checks each page before
// fetching it) and does not read sitemaps.
func discoverLinks(html, pageURL string, include, exclude []string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var links []string
	for _, href := range extractHrefs(html) {
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(u)
		if abs.Host != base.Host {
			continue
		}
		if !matchesPatterns(abs.String(), include, exclude) {
			continue
		}
		links = append(links, abs.String())
	}
	return links
}

func matchesPatterns(u string, include, exclude []string) bool {
	for _, p := range exclude {
		if strings.Contains(u, p) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, p := range include {
		if strings.Contains(u, p) {
			return true
		}
	}
	return false
}

func extractHrefs(html string) []string {
	var hrefs []string
	lower := strings.ToLower(html)
	idx := 0
	for {
		i := strings.Index(lower[idx:], "href=\"")
		if i < 0 {
			break
		}
		start := idx + i + len("href=\"")
		end := strings.Index(lower[start:], "\"")
		if end < 0 {
			break
		}
		hrefs = append(hrefs, html[start:start+end])
		idx = start + end
	}
	return hrefs
}
