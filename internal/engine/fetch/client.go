package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/atlascrawl/engine/internal/common/urlutil"
	"github.com/atlascrawl/engine/pkg/types"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	maxRedirects      = 5
	headerTimeout     = 10 * time.Second
	bodyTimeout       = 30 * time.Second
	retryAttempts     = 2
	retryBaseDelayMs  = 1000
	retryMaxDelayMs   = 5000
)

var (
	titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	tagPattern   = regexp.MustCompile(`(?is)<[^>]+>`)
)

// Config holds the per-crawl fetch parameters pulled from CrawlConfig.
type Config struct {
	UserAgent       string
	MaxBytesPerPage int64
	RespectRobots   bool
}

// Fetcher retrieves one URL at a time with bounded resource use, manual
// redirect handling, and a shared per-process RPS limiter.
type Fetcher struct {
	client      *fasthttp.Client
	robots      *RobotsCache
	rateLimiter *rpsLimiter
	logger      *zap.Logger
}

// NewFetcher builds a Fetcher. globalRPS serializes start-of-fetch across
// the whole process, distinct from the per-host token buckets the
// scheduler applies before a URL ever reaches here.
func NewFetcher(robots *RobotsCache, globalRPS float64, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client: &fasthttp.Client{
			MaxConnsPerHost:           256,
			ReadTimeout:               bodyTimeout,
			WriteTimeout:              headerTimeout,
			MaxResponseBodySize:       0, // set per request from Config.MaxBytesPerPage in fetchOnce
			NoDefaultUserAgentHeader:  true,
			DisablePathNormalizing:    true,
		},
		robots:      robots,
		rateLimiter: newRPSLimiter(globalRPS),
		logger:      logger,
	}
}

// Fetch retrieves rawURL, following redirects manually, and returns a
// FetchResult or one of the sentinel fetch errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, cfg Config) (*types.FetchResult, error) {
	if cfg.RespectRobots && f.robots != nil {
		parsed, err := url.Parse(rawURL)
		if err == nil {
			origin := parsed.Scheme + "://" + parsed.Host
			if !f.robots.Allowed(origin, parsed.Path) {
				return nil, ErrRobotsBlocked
			}
		}
	}

	var redirectChain []string
	currentURL := rawURL

	for hop := 0; ; hop++ {
		if hop > maxRedirects {
			return nil, ErrTooManyRedirects
		}

		result, location, err := f.fetchOnceWithRetry(ctx, currentURL, cfg)
		if err != nil {
			return nil, err
		}
		if location == "" {
			result.RedirectChain = redirectChain
			result.FinalURL = currentURL
			return result, nil
		}

		redirectChain = append(redirectChain, currentURL)
		resolved, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid redirect location %q", ErrNetwork, location)
		}
		base, err := url.Parse(currentURL)
		if err == nil {
			resolved = base.ResolveReference(resolved)
		}

		// The seed URL is vetted by the frontier's admission pipeline before
		// it ever reaches the fetcher; a redirect target is not, so it gets
		// the runtime SSRF check here instead.
		if err := validateTarget(resolved.String()); err != nil {
			return nil, err
		}
		currentURL = resolved.String()
	}
}

// fetchOnceWithRetry performs one hop, retrying transient failures with
// exponential backoff. Returns a non-empty location string when the
// response is a redirect.
func (f *Fetcher) fetchOnceWithRetry(ctx context.Context, fetchURL string, cfg Config) (*types.FetchResult, string, error) {
	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return nil, "", ErrShutdownAbandoned
			case <-time.After(delay):
			}
		}

		result, location, err := f.fetchOnce(ctx, fetchURL, cfg)
		if err == nil {
			return result, location, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, "", err
		}
		f.logger.Debug("fetch attempt failed, retrying",
			zap.String("url", fetchURL), zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, "", lastErr
}

// backoffDelay computes the exponential backoff for the given attempt
// number (1-indexed): min(1000*2^(attempt-1), 5000)ms.
func backoffDelay(attempt int) time.Duration {
	ms := retryBaseDelayMs * (1 << uint(attempt-1))
	if ms > retryMaxDelayMs {
		ms = retryMaxDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}

// fetchOnce performs a single HTTP round trip with no redirect following.
func (f *Fetcher) fetchOnce(ctx context.Context, fetchURL string, cfg Config) (*types.FetchResult, string, error) {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, "", ErrShutdownAbandoned
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fetchURL)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*")

	maxBytes := cfg.MaxBytesPerPage
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	f.client.MaxResponseBodySize = int(maxBytes)

	err := f.client.DoDeadline(req, resp, time.Now().Add(bodyTimeout))
	if err != nil {
		if err == fasthttp.ErrTimeout {
			return nil, "", ErrTimeout
		}
		if err == fasthttp.ErrBodyTooLarge {
			return nil, "", ErrBodySizeExceeded
		}
		return nil, "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	status := resp.StatusCode()

	if status >= 300 && status < 400 {
		location := string(resp.Header.Peek("Location"))
		if location != "" {
			return nil, location, nil
		}
	}

	body := resp.Body()
	if int64(len(body)) > maxBytes {
		return nil, "", ErrBodySizeExceeded
	}

	if status >= 400 && status < 500 {
		return nil, "", &HTTPClientError{StatusCode: status}
	}
	if status >= 500 {
		return nil, "", &HTTPServerError{StatusCode: status}
	}

	headers := headersFromResponse(resp)
	contentType := firstToken(string(resp.Header.Peek("Content-Type")))

	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	hash := sha256.Sum256(bodyCopy)
	result := &types.FetchResult{
		StatusCode:    status,
		Body:          bodyCopy,
		ContentType:   contentType,
		Headers:       headers,
		RawHTMLHash:   hex.EncodeToString(hash[:]),
		RobotsHeader:  string(resp.Header.Peek("X-Robots-Tag")),
		XRobotsTag:    string(resp.Header.Peek("X-Robots-Tag")),
	}

	if strings.Contains(contentType, "html") {
		html := string(bodyCopy)
		result.FallbackTitle = extractFallbackTitle(html)
		result.FallbackText = extractFallbackText(html)
	}

	return result, "", nil
}

func validateTarget(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	hostname := urlutil.ExtractHostname(parsed.Host)
	if err := urlutil.ValidateHostNotPrivateIP(hostname); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func headersFromResponse(resp *fasthttp.Response) http.Header {
	headers := make(http.Header)
	resp.Header.VisitAll(func(key, value []byte) {
		k := string(key)
		headers[k] = append(headers[k], string(value))
	})
	return headers
}

func firstToken(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

// extractFallbackTitle pulls <title> via regex for raw (non-rendered) mode.
func extractFallbackTitle(html string) string {
	matches := titlePattern.FindStringSubmatch(html)
	if len(matches) < 2 {
		return ""
	}
	return strings.TrimSpace(collapseTagWhitespace(matches[1]))
}

// extractFallbackText gives a crude text sample by stripping tags; the
// extraction pipeline's extractTextSample does the real DOM-based version
// once rendering/parsing has happened.
func extractFallbackText(html string) string {
	stripped := tagPattern.ReplaceAllString(html, " ")
	fields := strings.Fields(stripped)
	text := strings.Join(fields, " ")
	if len(text) > 1500 {
		text = text[:1500]
	}
	return text
}

func collapseTagWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// rpsLimiter is a simple token-bucket limiter shared across all fetches in
// the process, serializing start-of-fetch independent of per-host tokens.
type rpsLimiter struct {
	ticker *time.Ticker
	tokens chan struct{}
}

func newRPSLimiter(rps float64) *rpsLimiter {
	if rps <= 0 {
		rps = 20
	}
	interval := time.Duration(float64(time.Second) / rps)
	l := &rpsLimiter{
		ticker: time.NewTicker(interval),
		tokens: make(chan struct{}, 1),
	}
	l.tokens <- struct{}{}
	go func() {
		for range l.ticker.C {
			select {
			case l.tokens <- struct{}{}:
			default:
			}
		}
	}()
	return l
}

func (l *rpsLimiter) Wait(ctx context.Context) error {
	select {
	case <-l.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
