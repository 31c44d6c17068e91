package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/tag-search/api"
	"github.com/brettboylen/tag-search/db"
	"github.com/brettboylen/tag-search/models"
)

const (
	defaultTopTagsLimit        = 10
	defaultRecentSearchesLimit = 10
	statisticsSchedule         = "@every 30s"
	watchRunTimeout            = 2 * time.Minute
)

// rateLimited is implemented by services that track upstream rate limit headers
type rateLimited interface {
	GetRateLimitStatus() api.RateLimitStatus
}

// Collector runs searches, records them in the history and keeps statistics about watched tags
type Collector struct {
	services      api.Services
	database      *db.Database
	tags          []string
	schedule      string
	limit         int
	cron          *cron.Cron
	stats         models.Statistics
	log           *logrus.Logger
	mutex         sync.RWMutex
	processedRuns int
}

// NewCollector creates a new collector
func NewCollector(
	services api.Services,
	database *db.Database,
	tags []string,
	schedule string,
	limit int,
	log *logrus.Logger,
) *Collector {
	watched := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = api.NormalizeTag(tag); tag != "" {
			watched = append(watched, tag)
		}
	}

	logger := cron.PrintfLogger(log)
	return &Collector{
		services: services,
		database: database,
		tags:     watched,
		schedule: schedule,
		limit:    limit,
		cron:     cron.New(cron.WithLogger(logger), cron.WithChain(cron.SkipIfStillRunning(logger))),
		stats: models.Statistics{
			TopTagsBySearch: make(map[string]int),
			RecentSearches:  make([]models.SearchRecord, 0, defaultRecentSearchesLimit),
			StartTime:       time.Now(),
			LastUpdated:     time.Now(),
			TagStats:        make(map[string]models.TagStats),
		},
		log: log,
	}
}

// Start polls the watched tags on the configured schedule until ctx is cancelled
func (c *Collector) Start(ctx context.Context) error {
	if len(c.tags) > 0 {
		if _, err := c.cron.AddFunc(c.schedule, func() { c.fetchWatchedTags(ctx) }); err != nil {
			return fmt.Errorf("invalid watch schedule %q: %w", c.schedule, err)
		}
	}
	if _, err := c.cron.AddFunc(statisticsSchedule, func() {
		c.updateStatistics()
		c.logStatistics()
	}); err != nil {
		return fmt.Errorf("failed to schedule statistics: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"tags":      c.tags,
		"schedule":  c.schedule,
		"platforms": c.services.Platforms(),
	}).Info("Starting watched tag collector")

	if len(c.tags) > 0 {
		c.fetchWatchedTags(ctx)
	} else {
		c.updateStatistics()
	}

	c.cron.Start()
	<-ctx.Done()

	// wait for a running job to finish
	<-c.cron.Stop().Done()
	c.log.Info("Watched tag collector stopped")
	return ctx.Err()
}

// Search fetches posts for tag from one platform and records the search in the history
func (c *Collector) Search(ctx context.Context, platform, tag string, limit int) []models.Post {
	posts, err := c.search(ctx, platform, tag, limit)
	if err != nil {
		c.log.WithError(err).WithField("tag", tag).Error("Failed to record search")
	}
	return posts
}

func (c *Collector) search(ctx context.Context, platform, tag string, limit int) ([]models.Post, error) {
	service := c.services.ForPlatform(platform)

	start := time.Now()
	posts := service.FetchPostsFromTag(ctx, tag, limit)
	duration := time.Since(start)

	tag = api.NormalizeTag(tag)
	if tag == "" {
		return posts, nil
	}

	record := &models.SearchRecord{
		Platform:    service.Platform(),
		Tag:         tag,
		Limit:       api.EffectiveLimit(service, limit),
		ResultCount: len(posts),
		Duration:    duration,
	}
	if err := c.database.SaveSearch(record); err != nil {
		return posts, fmt.Errorf("failed to save search for %s on %s: %w", tag, service.Platform(), err)
	}

	return posts, nil
}

// fetchWatchedTags searches every watched tag on every platform concurrently
func (c *Collector) fetchWatchedTags(ctx context.Context) {
	platforms := c.services.Platforms()
	c.log.WithFields(logrus.Fields{
		"tags":      c.tags,
		"platforms": platforms,
	}).Info("Fetching posts for watched tags")

	fetchCtx, cancel := context.WithTimeout(ctx, watchRunTimeout)
	defer cancel()

	type tagResult struct {
		tag   string
		posts []models.Post
	}

	var wg sync.WaitGroup
	resultsCh := make(chan tagResult, len(c.tags)*len(platforms))
	errorsCh := make(chan error, len(c.tags)*len(platforms))

	for _, tag := range c.tags {
		for _, platform := range platforms {
			wg.Add(1)
			go func(tag, platform string) {
				defer wg.Done()

				posts, err := c.search(fetchCtx, platform, tag, c.limit)
				if err != nil {
					errorsCh <- err
				}
				resultsCh <- tagResult{tag: tag, posts: posts}
			}(tag, platform)
		}
	}

	wg.Wait()
	close(resultsCh)
	close(errorsCh)

	for err := range errorsCh {
		c.log.WithError(err).Error("Error while fetching watched tag")
	}

	checked := time.Now()
	tagStats := make(map[string]models.TagStats, len(c.tags))
	for result := range resultsCh {
		stats := tagStats[result.tag]
		stats.LastChecked = checked
		stats.LastPostCount += len(result.posts)
		for _, post := range result.posts {
			if stats.HighestScoringPost.Platform == "" || post.Score > stats.HighestScoringPost.Score {
				stats.HighestScoringPost = post
			}
		}
		tagStats[result.tag] = stats
	}

	c.mutex.Lock()
	for tag, stats := range tagStats {
		c.stats.TagStats[tag] = stats
	}
	c.processedRuns++
	c.mutex.Unlock()

	c.updateStatistics()
}

// updateStatistics refreshes the history based statistics from the database
func (c *Collector) updateStatistics() {
	topTags, err := c.database.GetTopTags(defaultTopTagsLimit)
	if err != nil {
		c.log.WithError(err).Error("Failed to get top tags")
		return
	}

	recent, err := c.database.GetRecentSearches(defaultRecentSearchesLimit, "")
	if err != nil {
		c.log.WithError(err).Error("Failed to get recent searches")
		return
	}

	total, err := c.database.GetTotalSearches()
	if err != nil {
		c.log.WithError(err).Error("Failed to get total searches")
		return
	}

	c.mutex.Lock()
	c.stats.TopTagsBySearch = topTags
	c.stats.RecentSearches = recent
	c.stats.TotalSearches = total
	c.stats.ProcessedRuns = c.processedRuns
	c.stats.LastUpdated = time.Now()
	c.mutex.Unlock()
}

// logStatistics logs the current statistics
func (c *Collector) logStatistics() {
	c.mutex.RLock()
	fields := logrus.Fields{
		"total_searches":     c.stats.TotalSearches,
		"processed_runs":     c.processedRuns,
		"watched_tag_count":  len(c.tags),
		"tags_with_data":     len(c.stats.TagStats),
		"running_since":      time.Since(c.stats.StartTime).String(),
		"top_tags_by_search": c.stats.TopTagsBySearch,
	}
	c.mutex.RUnlock()

	if service, ok := c.services[models.PlatformReddit].(rateLimited); ok {
		status := service.GetRateLimitStatus()
		fields["reddit_used"] = status.Used
		fields["reddit_remaining"] = status.Remaining
		fields["reddit_reset_sec"] = status.ResetSec
	}

	c.log.WithFields(fields).Info("Statistics updated")
}

// GetStatistics returns a copy of the current statistics
func (c *Collector) GetStatistics() models.Statistics {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats := c.stats
	stats.TopTagsBySearch = make(map[string]int, len(c.stats.TopTagsBySearch))
	for tag, count := range c.stats.TopTagsBySearch {
		stats.TopTagsBySearch[tag] = count
	}
	stats.TagStats = make(map[string]models.TagStats, len(c.stats.TagStats))
	for tag, tagStats := range c.stats.TagStats {
		stats.TagStats[tag] = tagStats
	}
	stats.RecentSearches = append([]models.SearchRecord(nil), c.stats.RecentSearches...)
	return stats
}

// GetTagStats returns the statistics of one watched tag
func (c *Collector) GetTagStats(tag string) (models.TagStats, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats, ok := c.stats.TagStats[api.NormalizeTag(tag)]
	return stats, ok
}

// History returns recorded searches, newest first
func (c *Collector) History(limit int, keyword string) ([]models.SearchRecord, error) {
	return c.database.GetRecentSearches(limit, keyword)
}
