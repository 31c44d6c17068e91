package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/tag-search/models"
)

const (
	defaultAPIBaseURL    = "https://oauth.reddit.com"
	defaultPublicBaseURL = "https://www.reddit.com"

	redditMaxLimit       = 100 // max number of posts per request
	redditPublicMaxLimit = 50

	defaultMaxRequestsPerMinute    = 100
	defaultPublicRequestsPerMinute = 30

	// one token request plus every authenticated search strategy
	authenticatedBurst = 5
)

// redditSearchPlan is the ordered table of authenticated search strategies
var redditSearchPlan = []struct {
	name     string
	path     string
	sort     string
	restrict bool
}{
	{name: "global_relevance", path: "/search", sort: "relevance"},
	{name: "global_new", path: "/search", sort: "new"},
	{name: "all_relevance", path: "/r/all/search", sort: "relevance", restrict: true},
	{name: "all_new", path: "/r/all/search", sort: "new", restrict: true},
}

// RedditConfig holds everything the reddit service needs; all values come from configuration
type RedditConfig struct {
	Credentials             Credentials
	UserAgent               string
	MaxRequestsPerMinute    int
	PublicRequestsPerMinute int

	// endpoint overrides, empty means the real reddit hosts
	AuthURL       string
	APIBaseURL    string
	PublicBaseURL string
}

// RateLimitStatus is the last rate limit state reported by reddit
type RateLimitStatus struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
	ResetSec  int `json:"reset_sec"`
}

// RedditService searches reddit for posts matching a tag
type RedditService struct {
	config        RedditConfig
	httpClient    *http.Client
	log           *logrus.Logger
	resolver      *CredentialResolver
	cascade       *cascade
	authLimiter   *rate.Limiter
	publicLimiter *rate.Limiter

	rateHeadersMutex sync.RWMutex
	rateStatus       RateLimitStatus
}

// NewRedditService creates a new reddit search service
func NewRedditService(config RedditConfig, log *logrus.Logger, opts ...Option) *RedditService {
	o := buildOptions(log, opts)

	if config.MaxRequestsPerMinute <= 0 {
		config.MaxRequestsPerMinute = defaultMaxRequestsPerMinute
	}
	if config.PublicRequestsPerMinute <= 0 {
		config.PublicRequestsPerMinute = defaultPublicRequestsPerMinute
	}
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	if config.PublicBaseURL == "" {
		config.PublicBaseURL = defaultPublicBaseURL
	}
	config.Credentials = config.Credentials.trimmed()

	r := &RedditService{
		config:        config,
		httpClient:    newHTTPClient(o.httpClient, config.UserAgent),
		log:           log,
		authLimiter:   o.newLimiter(config.MaxRequestsPerMinute, authenticatedBurst),
		publicLimiter: o.newLimiter(config.PublicRequestsPerMinute, 1),
	}

	r.resolver = &CredentialResolver{
		platform:   models.PlatformReddit,
		tokenURL:   config.AuthURL,
		httpClient: r.httpClient,
		limiter:    r.authLimiter,
		cache:      o.cache,
		sink:       o.sink,
	}

	strategies := make([]searchStrategy, 0, len(redditSearchPlan))
	for _, plan := range redditSearchPlan {
		strategies = append(strategies, searchStrategy{
			name:          plan.name,
			authenticated: true,
			limitCap:      redditMaxLimit,
			run:           r.searchAttempt(config.APIBaseURL+plan.path, plan.sort, plan.restrict, r.authLimiter),
		})
	}

	r.cascade = &cascade{
		platform:   models.PlatformReddit,
		strategies: strategies,
		fallback: searchStrategy{
			name:     "public_json",
			limitCap: redditPublicMaxLimit,
			run:      r.searchAttempt(config.PublicBaseURL+"/search.json", "relevance", false, r.publicLimiter),
		},
		sink: o.sink,
	}

	return r
}

func (r *RedditService) Platform() string {
	return models.PlatformReddit
}

// MaxLimit is the cap of an authenticated search. The public fallback caps lower.
func (r *RedditService) MaxLimit() int {
	return redditMaxLimit
}

// FetchPostsFromTag resolves a token when credentials are configured and runs the search cascade
func (r *RedditService) FetchPostsFromTag(ctx context.Context, tag string, limit int) (posts []models.Post) {
	tag = NormalizeTag(tag)
	if tag == "" {
		return []models.Post{}
	}
	limit = ClampLimit(limit, redditMaxLimit)

	callID := uuid.NewString()
	ctx = withCallID(ctx, callID)
	entry := r.log.WithFields(logrus.Fields{
		"call_id":  callID,
		"platform": models.PlatformReddit,
		"tag":      tag,
		"limit":    limit,
	})

	defer func() {
		if rec := recover(); rec != nil {
			entry.WithField("panic", rec).Error("Reddit retrieval aborted")
			posts = []models.Post{}
		}
	}()

	entry.Info("Fetching posts from Reddit")

	token := ""
	if !r.config.Credentials.Empty() {
		result := r.resolver.Resolve(ctx, r.config.Credentials)
		if result.Available() {
			token = result.AccessToken
		} else {
			entry.WithField("reason", result.Reason).Warn("No Reddit token available, using public search only")
		}
	}

	posts, strategy := r.cascade.run(ctx, tag, limit, token)

	entry.WithFields(logrus.Fields{
		"post_count": len(posts),
		"strategy":   strategy,
	}).Info("Fetched posts from Reddit")

	return posts
}

// Search runs the search cascade with an already resolved token, which may be empty
func (r *RedditService) Search(ctx context.Context, tag string, limit int, token string) []models.Post {
	tag = NormalizeTag(tag)
	if tag == "" {
		return []models.Post{}
	}
	posts, _ := r.cascade.run(ctx, tag, ClampLimit(limit, redditMaxLimit), token)
	return posts
}

func (r *RedditService) searchAttempt(endpoint, sort string, restrict bool, limiter *rate.Limiter) searchAttempt {
	return func(ctx context.Context, tag string, limit int, token string) ([]models.Post, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		params := url.Values{}
		params.Set("q", tag)
		params.Set("limit", strconv.Itoa(limit))
		params.Set("sort", sort)
		params.Set("type", "link")
		params.Set("restrict_sr", strconv.FormatBool(restrict))
		params.Set("include_over_18", "on")
		params.Set("raw_json", "1")

		return getListing(ctx, r.httpClient, endpoint+"?"+params.Encode(), token, models.PlatformReddit, r.updateRateLimits)
	}
}

// GetRateLimitStatus returns the last rate limit headers seen from reddit
func (r *RedditService) GetRateLimitStatus() RateLimitStatus {
	r.rateHeadersMutex.RLock()
	defer r.rateHeadersMutex.RUnlock()
	return r.rateStatus
}

// updateRateLimits records reddit's rate limit headers. Nothing waits on them: a 429 is just a failed strategy.
func (r *RedditService) updateRateLimits(resp *http.Response) {
	// X-Ratelimit-Used: Approximate number of requests used in this period
	// X-Ratelimit-Remaining: Approximate number of requests left to use
	// X-Ratelimit-Reset: Approximate number of seconds to end of period
	used := getHeaderAsInt(resp.Header, "X-Ratelimit-Used")
	remaining := getHeaderAsInt(resp.Header, "X-Ratelimit-Remaining")
	reset := getHeaderAsInt(resp.Header, "X-Ratelimit-Reset")

	// skip if we didn't get valid headers, e.g. from the public endpoint
	if reset == 0 && used == 0 {
		return
	}

	r.rateHeadersMutex.Lock()
	r.rateStatus = RateLimitStatus{Used: used, Remaining: remaining, ResetSec: reset}
	r.rateHeadersMutex.Unlock()

	r.log.WithFields(logrus.Fields{
		"used":      used,
		"remaining": remaining,
		"reset_sec": reset,
	}).Debug("Updated Reddit rate limit status")
}

func getHeaderAsInt(header http.Header, name string) int {
	value := strings.TrimSpace(header.Get(name))
	if value == "" {
		return 0
	}

	// reddit reports remaining as a float, e.g. "596.0"
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}

	return int(floatValue)
}
