package db

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite"

	"newsfeed/internal/logger"
	"newsfeed/internal/models"
)

//go:embed migrations/sqlite/schema.sql
var sqliteSchema string

var sqliteEncoder = encoder{
	tags: func(tags []string) interface{} {
		if tags == nil {
			tags = []string{}
		}
		b, _ := json.Marshal(tags)
		return string(b)
	},
	time: func(t time.Time) interface{} { return models.FormatISO(t) },
}

// SQLiteStore - встраиваемое хранилище для локального запуска и тестов.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite открывает базу по пути (или ":memory:") и применяет схему.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Одна запись за раз; для :memory: ещё и единственная копия базы.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close sqlite store")
	}
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) ListActiveSources(ctx context.Context, keys []string) ([]models.FeedSource, error) {
	query, args := selectActiveSources(sqlbuilder.SQLite, keys)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feed sources: %w", err)
	}
	defer rows.Close()

	var sources []models.FeedSource
	for rows.Next() {
		var (
			src                 models.FeedSource
			url, category, name sql.NullString
		)
		if err := rows.Scan(&src.Key, &url, &src.IsActive, &category, &name); err != nil {
			return nil, fmt.Errorf("scan feed source: %w", err)
		}
		src.URL, src.Category, src.Name = url.String, category.String, name.String
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed sources: %w", err)
	}
	return sources, nil
}

func (s *SQLiteStore) ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(urls) == 0 {
		return existing, nil
	}

	query, args := selectExistingURLs(sqlbuilder.SQLite, urls)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query existing urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		existing[url] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate existing urls: %w", err)
	}
	return existing, nil
}

func (s *SQLiteStore) UpsertNewsItems(ctx context.Context, items []models.NewsItem) error {
	if len(items) == 0 {
		return nil
	}
	query, args := upsertNewsItems(sqlbuilder.SQLite, sqliteEncoder, items, time.Now())
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert news items: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertSource(ctx context.Context, src models.FeedSource) error {
	query, args := upsertSource(sqlbuilder.SQLite, src)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert feed source %s: %w", src.Key, err)
	}
	return nil
}

func (s *SQLiteStore) ListNews(ctx context.Context, q models.NewsQuery) ([]models.NewsItem, error) {
	query, args := selectNews(sqlbuilder.SQLite, q, func(sb *sqlbuilder.SelectBuilder, tag string) string {
		return "EXISTS (SELECT 1 FROM json_each(news_items.tags) WHERE json_each.value = " + sb.Args.Add(tag) + ")"
	})
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}
	defer rows.Close()

	news := []models.NewsItem{}
	for rows.Next() {
		var (
			it        models.NewsItem
			summary   sql.NullString
			published sql.NullString
			tags      string
		)
		if err := rows.Scan(&it.URL, &it.Title, &summary, &published, &it.SourceKey, &tags); err != nil {
			return nil, fmt.Errorf("scan news item: %w", err)
		}
		if summary.Valid {
			it.Summary = &summary.String
		}
		if published.Valid {
			t, err := time.Parse(time.RFC3339Nano, published.String)
			if err != nil {
				return nil, fmt.Errorf("parse published_at %q: %w", published.String, err)
			}
			it.PublishedAt = &t
		}
		if err := json.Unmarshal([]byte(tags), &it.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		news = append(news, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news: %w", err)
	}
	return news, nil
}

func (s *SQLiteStore) CountNewsSince(ctx context.Context, since time.Time) (int, error) {
	query, args := countNewsSince(sqlbuilder.SQLite, models.FormatISO(since))
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count news: %w", err)
	}
	return count, nil
}
