package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	PlatformReddit   = "reddit"
	PlatformMastodon = "mastodon"
)

// Post is one social media item normalized across platforms.
// Posts are built by the listing normalizers and are read-only afterwards.
type Post struct {
	ID          string   `json:"id,omitempty"`
	Platform    string   `json:"platform"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Group       string   `json:"group,omitempty"`
	Permalink   string   `json:"permalink"`
	ExternalURL string   `json:"external_url,omitempty"`
	Content     string   `json:"content"`
	Score       int      `json:"score"`
	NumComments int      `json:"num_comments"`
	ShareCount  int      `json:"share_count"`
	CreatedUTC  int64    `json:"created_utc"` // epoch seconds, 0 when unknown
	Tags        []string `json:"tags"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Over18      bool     `json:"over_18"`
}

// URL returns the link target of the post, preferring the external URL over the permalink
func (p Post) URL() string {
	if strings.TrimSpace(p.ExternalURL) != "" {
		return p.ExternalURL
	}
	return p.Permalink
}

// CreatedAt returns the creation time, or the zero time when it is unknown
func (p Post) CreatedAt() time.Time {
	if p.CreatedUTC <= 0 {
		return time.Time{}
	}
	return time.Unix(p.CreatedUTC, 0).UTC()
}

// PlatformDisplayName returns a human readable platform name
func PlatformDisplayName(platform string) string {
	switch strings.ToLower(platform) {
	case PlatformReddit:
		return "Reddit"
	case PlatformMastodon:
		return "Mastodon"
	case "":
		return "Social"
	default:
		first, size := utf8.DecodeRuneInString(platform)
		return strings.ToUpper(string(first)) + platform[size:]
	}
}

// SearchRecord is one entry of the search history
type SearchRecord struct {
	ID          string        `json:"id"`
	Platform    string        `json:"platform"`
	Tag         string        `json:"tag"`
	Limit       int           `json:"limit"`
	ResultCount int           `json:"result_count"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// TagStats holds statistics for a single watched tag
type TagStats struct {
	LastPostCount      int       `json:"last_post_count"`
	HighestScoringPost Post      `json:"highest_scoring_post"`
	LastChecked        time.Time `json:"last_checked"`
}

// Statistics holds statistics about searches and watched tags
type Statistics struct {
	TotalSearches   int                 `json:"total_searches"`
	ProcessedRuns   int                 `json:"processed_runs"`
	TopTagsBySearch map[string]int      `json:"top_tags_by_search"`
	RecentSearches  []SearchRecord      `json:"recent_searches"`
	StartTime       time.Time           `json:"start_time"`
	LastUpdated     time.Time           `json:"last_updated"`
	TagStats        map[string]TagStats `json:"tag_stats"`
}
