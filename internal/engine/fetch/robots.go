package fetch

import (
	"fmt"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// robotsTTL bounds how long a parsed robots.txt is trusted before
// re-fetching; the cache is keyed by origin ("scheme://host").
const robotsTTL = 1 * time.Hour

type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// RobotsCache is the Fetcher-owned robots.txt cache described in spec.md
// §4.1/§4.2: fetch+parse with TTL on miss, evaluate the most specific rule
// for the configured user-agent.
type RobotsCache struct {
	mu        sync.Mutex
	entries   map[string]robotsEntry
	client    *fasthttp.Client
	userAgent string
	logger    *zap.Logger
}

// NewRobotsCache creates an empty cache. userAgent selects the rule group
// within each parsed robots.txt.
func NewRobotsCache(userAgent string, logger *zap.Logger) *RobotsCache {
	return &RobotsCache{
		entries: make(map[string]robotsEntry),
		client: &fasthttp.Client{
			MaxConnsPerHost:     32,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxResponseBodySize: 512 * 1024,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed reports whether path may be fetched under origin's robots.txt.
// A robots.txt that fails to fetch or parse is treated as permissive (no
// restrictions), matching the common crawler convention of fail-open on
// robots retrieval errors while still fail-closed on an explicit Disallow.
func (c *RobotsCache) Allowed(origin, path string) bool {
	group := c.groupFor(origin)
	if group == nil {
		return true
	}
	return group.Test(path)
}

func (c *RobotsCache) groupFor(origin string) *robotstxt.Group {
	c.mu.Lock()
	entry, ok := c.entries[origin]
	c.mu.Unlock()

	if ok && time.Since(entry.fetchedAt) < robotsTTL {
		return entry.group
	}

	group := c.fetchAndParse(origin)

	c.mu.Lock()
	c.entries[origin] = robotsEntry{group: group, fetchedAt: time.Now()}
	c.mu.Unlock()

	return group
}

func (c *RobotsCache) fetchAndParse(origin string) *robotstxt.Group {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/robots.txt", origin))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("User-Agent", c.userAgent)

	if err := c.client.DoTimeout(req, resp, 10*time.Second); err != nil {
		c.logger.Debug("robots.txt fetch failed, treating as permissive",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil
	}

	data, err := robotstxt.FromBytes(resp.Body())
	if err != nil {
		c.logger.Debug("robots.txt parse failed, treating as permissive",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}

	return data.FindGroup(c.userAgent)
}
