package db

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/tag-search/models"
)

// Database stores the search history. Fetched posts are never persisted.
type Database struct {
	db    *sql.DB
	mutex sync.RWMutex
	log   *logrus.Logger
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:  db,
		log: log,
	}

	if err := database.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	CREATE TABLE IF NOT EXISTS searches (
		id TEXT PRIMARY KEY,
		platform TEXT NOT NULL,
		tag TEXT NOT NULL,
		result_limit INTEGER NOT NULL,
		result_count INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_searches_created_at ON searches(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_searches_tag ON searches(tag);
	`

	_, err := d.db.Exec(query)
	return err
}

// SaveSearch records one search. A missing id or timestamp is filled in.
func (d *Database) SaveSearch(record *models.SearchRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	INSERT INTO searches (
		id, platform, tag, result_limit, result_count, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.Exec(
		query,
		record.ID, record.Platform, record.Tag, record.Limit, record.ResultCount,
		record.Duration.Milliseconds(), record.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save search: %w", err)
	}

	return nil
}

// timestampLayout is fixed width so stored timestamps sort chronologically as text
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// likeEscaper makes LIKE wildcards in user input match literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// GetRecentSearches returns the newest searches first. A non-blank keyword filters
// on the tag, case-insensitively.
func (d *Database) GetRecentSearches(limit int, keyword string) ([]models.SearchRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid recent searches limit %d", limit)
	}

	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT id, platform, tag, result_limit, result_count, duration_ms, created_at
	FROM searches
	WHERE (? = '' OR LOWER(tag) LIKE '%' || ? || '%' ESCAPE '\')
	ORDER BY created_at DESC
	LIMIT ?
	`

	keyword = strings.ToLower(strings.TrimSpace(keyword))
	rows, err := d.db.Query(query, keyword, likeEscaper.Replace(keyword), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent searches: %w", err)
	}
	defer rows.Close()

	records := []models.SearchRecord{}
	for rows.Next() {
		var record models.SearchRecord
		var durationMs int64
		var createdAt string

		err := rows.Scan(
			&record.ID, &record.Platform, &record.Tag, &record.Limit,
			&record.ResultCount, &durationMs, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search: %w", err)
		}

		record.Duration = time.Duration(durationMs) * time.Millisecond
		record.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// GetTopTags returns the N most searched tags with their search counts
func (d *Database) GetTopTags(limit int) (map[string]int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT tag, COUNT(*) as search_count
	FROM searches
	GROUP BY tag
	ORDER BY search_count DESC, tag ASC
	LIMIT ?
	`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top tags: %w", err)
	}
	defer rows.Close()

	tags := make(map[string]int)
	for rows.Next() {
		var tag string
		var count int

		if err := rows.Scan(&tag, &count); err != nil {
			return nil, fmt.Errorf("failed to scan tag search count: %w", err)
		}

		tags[tag] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return tags, nil
}

// GetTotalSearches returns the total number of recorded searches
func (d *Database) GetTotalSearches() (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM searches").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get total searches: %w", err)
	}

	return count, nil
}
