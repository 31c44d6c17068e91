package db

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/tag-search/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	database, err := NewDatabase(filepath.Join(t.TempDir(), "history.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSaveSearchFillsDefaults(t *testing.T) {
	database := newTestDatabase(t)
	record := &models.SearchRecord{Platform: models.PlatformReddit, Tag: "golang", Limit: 20, ResultCount: 5}

	require.NoError(t, database.SaveSearch(record))

	assert.NotEmpty(t, record.ID)
	assert.False(t, record.CreatedAt.IsZero())

	total, err := database.GetTotalSearches()
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestGetRecentSearches(t *testing.T) {
	database := newTestDatabase(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, tag := range []string{"golang", "rust", "GoLand", "news"} {
		require.NoError(t, database.SaveSearch(&models.SearchRecord{
			Platform:    models.PlatformReddit,
			Tag:         tag,
			Limit:       10,
			ResultCount: i,
			Duration:    1500 * time.Millisecond,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	tests := []struct {
		name     string
		limit    int
		keyword  string
		expected []string
	}{
		{name: "newest first", limit: 10, expected: []string{"news", "GoLand", "rust", "golang"}},
		{name: "limit applies", limit: 2, expected: []string{"news", "GoLand"}},
		{name: "keyword is case insensitive", limit: 10, keyword: " GO ", expected: []string{"GoLand", "golang"}},
		{name: "no match", limit: 10, keyword: "python", expected: []string{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, err := database.GetRecentSearches(tc.limit, tc.keyword)
			require.NoError(t, err)

			tags := make([]string, 0, len(records))
			for _, r := range records {
				tags = append(tags, r.Tag)
			}
			assert.Equal(t, tc.expected, tags)
		})
	}

	records, err := database.GetRecentSearches(1, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1500*time.Millisecond, records[0].Duration)
	assert.True(t, base.Add(3*time.Minute).Equal(records[0].CreatedAt))
	assert.Equal(t, 3, records[0].ResultCount)
}

func TestGetTopTags(t *testing.T) {
	database := newTestDatabase(t)
	for _, tag := range []string{"golang", "golang", "golang", "rust", "rust", "news"} {
		require.NoError(t, database.SaveSearch(&models.SearchRecord{Platform: models.PlatformMastodon, Tag: tag}))
	}

	top, err := database.GetTopTags(2)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"golang": 3, "rust": 2}, top)

	total, err := database.GetTotalSearches()
	require.NoError(t, err)
	assert.Equal(t, 6, total)
}

func TestGetRecentSearchesLimit(t *testing.T) {
	database := newTestDatabase(t)
	require.NoError(t, database.SaveSearch(&models.SearchRecord{Platform: models.PlatformReddit, Tag: "golang"}))

	for _, limit := range []int{0, -1} {
		_, err := database.GetRecentSearches(limit, "")
		assert.Error(t, err, limit)
	}

	records, err := database.GetRecentSearches(1<<62, "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestGetRecentSearchesMatchesWildcardsLiterally(t *testing.T) {
	database := newTestDatabase(t)
	for _, tag := range []string{"golang", "go_lang", "100%", `back\slash`} {
		require.NoError(t, database.SaveSearch(&models.SearchRecord{Platform: models.PlatformReddit, Tag: tag}))
	}

	tests := []struct {
		name     string
		keyword  string
		expected []string
	}{
		{name: "underscore", keyword: "_", expected: []string{"go_lang"}},
		{name: "percent", keyword: "%", expected: []string{"100%"}},
		{name: "backslash", keyword: `\`, expected: []string{`back\slash`}},
		{name: "plain keyword still matches", keyword: "lang", expected: []string{"golang", "go_lang"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, err := database.GetRecentSearches(10, tc.keyword)
			require.NoError(t, err)

			tags := make([]string, 0, len(records))
			for _, r := range records {
				tags = append(tags, r.Tag)
			}
			assert.ElementsMatch(t, tc.expected, tags)
		})
	}
}

func TestGetRecentSearchesOrdersSubsecondTimestamps(t *testing.T) {
	database := newTestDatabase(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for tag, offset := range map[string]time.Duration{
		"first":  100 * time.Millisecond,
		"second": 120 * time.Millisecond,
		"third":  time.Second,
	} {
		require.NoError(t, database.SaveSearch(&models.SearchRecord{
			Platform:  models.PlatformReddit,
			Tag:       tag,
			CreatedAt: base.Add(offset),
		}))
	}

	records, err := database.GetRecentSearches(10, "")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "third", records[0].Tag)
	assert.Equal(t, "second", records[1].Tag)
	assert.Equal(t, "first", records[2].Tag)
	assert.True(t, base.Add(120*time.Millisecond).Equal(records[1].CreatedAt))
}
