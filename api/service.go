package api

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/tag-search/models"
)

const (
	defaultLimit       = 20
	defaultUserAgent   = "tag-search/1.0 (+https://github.com/brettboylen/tag-search)"
	httpTimeout        = 30 * time.Second
	maxLoggedBodyBytes = 512
)

// Service fetches recent posts for a tag from one platform
type Service interface {
	Platform() string
	// FetchPostsFromTag never fails: every internal error degrades to an empty result
	FetchPostsFromTag(ctx context.Context, tag string, limit int) []models.Post
}

var (
	_ Service = (*RedditService)(nil)
	_ Service = (*MastodonService)(nil)
)

// NormalizeTag trims whitespace and a single leading '#'
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "#")
	return strings.TrimSpace(tag)
}

// ClampLimit bounds limit to [1, maxLimit], using the default for non-positive input
func ClampLimit(limit, maxLimit int) int {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// limitCapped is implemented by services with a per-request result cap
type limitCapped interface {
	MaxLimit() int
}

// EffectiveLimit returns the limit service sends upstream when limit is requested
func EffectiveLimit(service Service, limit int) int {
	if capped, ok := service.(limitCapped); ok {
		return ClampLimit(limit, capped.MaxLimit())
	}
	return ClampLimit(limit, math.MaxInt)
}

// Option customizes a platform service
type Option func(*options)

type options struct {
	httpClient  *http.Client
	sink        EventSink
	cache       TokenCache
	unthrottled bool
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithEventSink adds a sink that receives every attempt event next to the log sink
func WithEventSink(sink EventSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithTokenCache enables token reuse across calls
func WithTokenCache(cache TokenCache) Option {
	return func(o *options) { o.cache = cache }
}

// WithoutRateLimit disables client-side request pacing
func WithoutRateLimit() Option {
	return func(o *options) { o.unthrottled = true }
}

func buildOptions(log *logrus.Logger, opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logSink := NewLogSink(log)
	if o.sink != nil {
		o.sink = MultiSink{logSink, o.sink}
	} else {
		o.sink = logSink
	}
	return o
}

// newLimiter paces requests at 95% of perMinute
func (o options) newLimiter(perMinute, burst int) *rate.Limiter {
	if o.unthrottled || perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	requestsPerSecond := float64(perMinute) / 60.0
	return rate.NewLimiter(rate.Limit(requestsPerSecond*0.95), burst)
}

// userAgentTransport stamps every outgoing request with the configured user agent
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(req)
}

func newHTTPClient(base *http.Client, userAgent string) *http.Client {
	if base == nil {
		base = &http.Client{Timeout: httpTimeout}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	client.Transport = &userAgentTransport{base: transport, userAgent: strings.TrimSpace(userAgent)}
	return &client
}

func truncateBody(body string) string {
	if len(body) > maxLoggedBodyBytes {
		return body[:maxLoggedBodyBytes] + "..."
	}
	return body
}
