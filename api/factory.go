package api

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/tag-search/models"
)

// Services maps a platform name to its service
type Services map[string]Service

// NewServices builds one service per supported platform
func NewServices(reddit RedditConfig, mastodon MastodonConfig, log *logrus.Logger, opts ...Option) Services {
	return Services{
		models.PlatformReddit:   NewRedditService(reddit, log, opts...),
		models.PlatformMastodon: NewMastodonService(mastodon, log, opts...),
	}
}

// ForPlatform returns the service for name; unknown or empty names fall back to reddit
func (s Services) ForPlatform(name string) Service {
	if service, ok := s[strings.ToLower(strings.TrimSpace(name))]; ok {
		return service
	}
	return s[models.PlatformReddit]
}

// Platforms returns the configured platform names in sorted order
func (s Services) Platforms() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
