package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brettboylen/tag-search/models"
)

const redditWebURL = "https://www.reddit.com"

// NormalizeListing converts a raw search result document into posts.
// Malformed records are repaired with defaults or dropped; only an unparseable
// document or one without the expected top-level shape returns an error.
func NormalizeListing(body []byte, platform string) ([]models.Post, error) {
	switch platform {
	case models.PlatformMastodon:
		return NormalizeStatuses(body)
	default:
		return normalizeRedditListing(body)
	}
}

// redditListing is the `{data: {children: [{data: {...}}]}}` envelope of a reddit listing
type redditListing struct {
	Data *struct {
		Children *[]json.RawMessage `json:"children"`
	} `json:"data"`
}

func normalizeRedditListing(body []byte) ([]models.Post, error) {
	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedListing, err)
	}
	if listing.Data == nil || listing.Data.Children == nil {
		return nil, fmt.Errorf("%w: missing data.children", ErrMalformedListing)
	}

	children := *listing.Data.Children
	posts := make([]models.Post, 0, len(children))
	for _, rawChild := range children {
		var child struct {
			Data rawRecord `json:"data"`
		}
		if err := json.Unmarshal(rawChild, &child); err != nil || child.Data == nil {
			continue
		}
		if post, ok := redditPostFromRecord(child.Data); ok {
			posts = append(posts, post)
		}
	}
	return posts, nil
}

func redditPostFromRecord(d rawRecord) (models.Post, bool) {
	title := d.str("title")
	if strings.TrimSpace(title) == "" {
		return models.Post{}, false
	}

	post := models.Post{
		ID:          d.str("id"),
		Platform:    models.PlatformReddit,
		Title:       title,
		Group:       d.str("subreddit"),
		ExternalURL: d.str("url"),
		Content:     title,
		Score:       d.integer("score"),
		NumComments: d.integer("num_comments"),
		CreatedUTC:  d.epoch("created_utc"),
		Tags:        []string{},
		Over18:      d.flag("over_18"),
	}
	if author := d.str("author"); strings.TrimSpace(author) != "" {
		post.Author = "u/" + author
	}
	if permalink := d.str("permalink"); strings.TrimSpace(permalink) != "" {
		post.Permalink = redditWebURL + permalink
	}
	if selftext := d.str("selftext"); strings.TrimSpace(selftext) != "" {
		post.Content = selftext
	}
	if thumb := d.str("thumbnail"); isHTTPURL(thumb) {
		post.Thumbnail = thumb
	}
	return post, true
}

// NormalizeStatuses converts a mastodon array of statuses into posts
func NormalizeStatuses(body []byte) ([]models.Post, error) {
	var statuses []json.RawMessage
	if err := json.Unmarshal(body, &statuses); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedListing, err)
	}
	if statuses == nil {
		return nil, fmt.Errorf("%w: expected an array of statuses", ErrMalformedListing)
	}

	posts := make([]models.Post, 0, len(statuses))
	for _, raw := range statuses {
		var s rawRecord
		if err := json.Unmarshal(raw, &s); err != nil || s == nil {
			continue
		}
		posts = append(posts, mastodonPostFromRecord(s))
	}
	return posts, nil
}

func mastodonPostFromRecord(s rawRecord) models.Post {
	statusURL := s.str("url")
	if strings.TrimSpace(statusURL) == "" {
		statusURL = s.str("uri")
	}

	account := s.object("account")
	handle := account.str("acct")
	if strings.TrimSpace(handle) == "" {
		handle = account.str("username")
	}
	if strings.TrimSpace(handle) != "" && !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}

	title := "Mastodon post"
	if handle != "" {
		title = handle + ": " + title
	}

	content := s.str("content")
	if strings.TrimSpace(content) == "" {
		content = title
	}

	tags := []string{}
	for _, t := range s.array("tags") {
		if name := t.str("name"); strings.TrimSpace(name) != "" {
			tags = append(tags, name)
		}
	}

	return models.Post{
		ID:          s.str("id"),
		Platform:    models.PlatformMastodon,
		Title:       title,
		Author:      handle,
		Permalink:   statusURL,
		ExternalURL: statusURL,
		Content:     content,
		Score:       s.integer("favourites_count"),
		NumComments: s.integer("replies_count"),
		ShareCount:  s.integer("reblogs_count"),
		CreatedUTC:  s.isoEpoch("created_at"),
		Tags:        tags,
		Over18:      s.flag("sensitive"),
	}
}

// rawRecord gives lenient access to the fields of one JSON object.
// Every accessor returns the zero value for missing or mistyped fields.
type rawRecord map[string]json.RawMessage

func (r rawRecord) str(key string) string {
	raw, ok := r[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (r rawRecord) number(key string) (float64, bool) {
	raw, ok := r[key]
	if !ok {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func (r rawRecord) integer(key string) int {
	f, ok := r.number(key)
	if !ok {
		return 0
	}
	return int(f)
}

// epoch reads a numeric epoch-seconds field, 0 when missing, malformed or negative
func (r rawRecord) epoch(key string) int64 {
	f, ok := r.number(key)
	if !ok || f <= 0 {
		return 0
	}
	return int64(f)
}

// isoEpoch reads an ISO-8601 offset date-time field as epoch seconds, 0 when it does not parse
func (r rawRecord) isoEpoch(key string) int64 {
	value := strings.TrimSpace(r.str(key))
	if value == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil || t.Unix() < 0 {
		return 0
	}
	return t.Unix()
}

func (r rawRecord) flag(key string) bool {
	raw, ok := r[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

func (r rawRecord) object(key string) rawRecord {
	raw, ok := r[key]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return rawRecord{}
	}
	var obj rawRecord
	if err := json.Unmarshal(raw, &obj); err != nil {
		return rawRecord{}
	}
	return obj
}

func (r rawRecord) array(key string) []rawRecord {
	raw, ok := r[key]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]rawRecord, 0, len(items))
	for _, item := range items {
		var obj rawRecord
		if err := json.Unmarshal(item, &obj); err == nil && obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
