package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/tag-search/models"
)

const (
	defaultMastodonInstance   = "mastodon.social"
	mastodonMaxLimit          = 80
	mastodonRequestsPerMinute = 60
)

// MastodonConfig holds the mastodon instance settings
type MastodonConfig struct {
	Instance    string
	AccessToken string
	UserAgent   string

	// BaseURL overrides https://<instance>
	BaseURL string
}

// MastodonService reads the public tag timeline of a mastodon instance
type MastodonService struct {
	config     MastodonConfig
	httpClient *http.Client
	log        *logrus.Logger
	limiter    *rate.Limiter
	cascade    *cascade
}

// NewMastodonService creates a new mastodon tag timeline service
func NewMastodonService(config MastodonConfig, log *logrus.Logger, opts ...Option) *MastodonService {
	o := buildOptions(log, opts)

	config.Instance = strings.TrimSpace(config.Instance)
	if config.Instance == "" {
		config.Instance = defaultMastodonInstance
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://" + config.Instance
	}
	config.AccessToken = strings.TrimSpace(config.AccessToken)

	m := &MastodonService{
		config:     config,
		httpClient: newHTTPClient(o.httpClient, config.UserAgent),
		log:        log,
		limiter:    o.newLimiter(mastodonRequestsPerMinute, 2),
	}

	m.cascade = &cascade{
		platform: models.PlatformMastodon,
		strategies: []searchStrategy{
			{name: "tag_timeline_authenticated", authenticated: true, limitCap: mastodonMaxLimit, run: m.timelineAttempt},
		},
		fallback: searchStrategy{name: "tag_timeline_public", limitCap: mastodonMaxLimit, run: m.timelineAttempt},
		sink:     o.sink,
	}

	return m
}

func (m *MastodonService) Platform() string {
	return models.PlatformMastodon
}

func (m *MastodonService) MaxLimit() int {
	return mastodonMaxLimit
}

// FetchPostsFromTag reads the tag timeline, with the access token first when one is configured
func (m *MastodonService) FetchPostsFromTag(ctx context.Context, tag string, limit int) (posts []models.Post) {
	tag = NormalizeTag(tag)
	if tag == "" {
		return []models.Post{}
	}
	limit = ClampLimit(limit, mastodonMaxLimit)

	callID := uuid.NewString()
	ctx = withCallID(ctx, callID)
	entry := m.log.WithFields(logrus.Fields{
		"call_id":  callID,
		"platform": models.PlatformMastodon,
		"instance": m.config.Instance,
		"tag":      tag,
		"limit":    limit,
	})

	defer func() {
		if rec := recover(); rec != nil {
			entry.WithField("panic", rec).Error("Mastodon retrieval aborted")
			posts = []models.Post{}
		}
	}()

	posts, strategy := m.cascade.run(ctx, tag, limit, m.config.AccessToken)

	entry.WithFields(logrus.Fields{
		"post_count": len(posts),
		"strategy":   strategy,
	}).Info("Fetched posts from Mastodon")

	return posts
}

func (m *MastodonService) timelineAttempt(ctx context.Context, tag string, limit int, token string) ([]models.Post, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/timelines/tag/%s?limit=%s",
		m.config.BaseURL, url.PathEscape(tag), strconv.Itoa(limit))

	return getListing(ctx, m.httpClient, endpoint, token, models.PlatformMastodon, nil)
}
