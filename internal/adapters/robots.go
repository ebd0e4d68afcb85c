package adapters

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// robotsCache holds each host's wildcard-agent Disallow prefixes for the
// lifetime of one adapter, so a crawl consults robots.txt once per host
// rather than once per page.
type robotsCache struct {
	mu    sync.Mutex
	rules map[string][]string // scheme://host -> disallowed path prefixes
}

func newRobotsCache() *robotsCache {
	return &robotsCache{rules: make(map[string][]string)}
}

// allowed reports whether pageURL may be fetched under the host's
// robots.txt. A missing or unfetchable robots.txt allows everything.
func (rc *robotsCache) allowed(ctx context.Context, client *http.Client, pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	rc.mu.Lock()
	rules, ok := rc.rules[origin]
	rc.mu.Unlock()
	if !ok {
		rules = fetchRobotsRules(ctx, client, origin)
		rc.mu.Lock()
		rc.rules[origin] = rules
		rc.mu.Unlock()
	}

	p := u.Path
	if p == "" {
		p = "/"
	}
	for _, prefix := range rules {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	return true
}

// fetchRobotsRules pulls origin/robots.txt and collects the Disallow
// prefixes that apply to the wildcard user-agent group.
func fetchRobotsRules(ctx context.Context, client *http.Client, origin string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var rules []string
	inWildcard := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "user-agent":
			inWildcard = value == "*"
		case "disallow":
			if inWildcard && value != "" {
				rules = append(rules, value)
			}
		}
	}
	return rules
}
