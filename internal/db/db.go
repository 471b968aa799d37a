package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgxpool"

	"newsfeed/internal/models"
)

// Store - общий интерфейс хранилищ (PostgreSQL и SQLite).
type Store interface {
	ListActiveSources(ctx context.Context, keys []string) ([]models.FeedSource, error)
	ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error)
	UpsertNewsItems(ctx context.Context, items []models.NewsItem) error
	UpsertSource(ctx context.Context, src models.FeedSource) error
	ListNews(ctx context.Context, q models.NewsQuery) ([]models.NewsItem, error)
	CountNewsSince(ctx context.Context, since time.Time) (int, error)
	Ping(ctx context.Context) error
	Close()
}

// Open выбирает хранилище по строке подключения: sqlite:, file: и :memory: - SQLite,
// всё остальное - PostgreSQL.
func Open(ctx context.Context, dsn string) (Store, error) {
	if path, ok := sqlitePath(dsn); ok {
		store, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	database, err := NewDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return database, nil
}

func sqlitePath(dsn string) (string, bool) {
	switch {
	case dsn == ":memory:":
		return dsn, true
	case strings.HasPrefix(dsn, "sqlite://"):
		return strings.TrimPrefix(dsn, "sqlite://"), true
	case strings.HasPrefix(dsn, "sqlite:"):
		return strings.TrimPrefix(dsn, "sqlite:"), true
	case strings.HasPrefix(dsn, "file:"):
		return dsn, true
	}
	return "", false
}

var pgEncoder = encoder{
	tags: func(tags []string) interface{} {
		if tags == nil {
			return []string{}
		}
		return tags
	},
	time: func(t time.Time) interface{} { return t.UTC() },
}

// Database инкапсулирует пул соединений к PostgreSQL.
type Database struct {
	Pool *pgxpool.Pool
}

var _ Store = (*Database)(nil)

// NewDB создаёт новый пул соединений по connString и возвращает Database.
func NewDB(ctx context.Context, connString string) (*Database, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Database{Pool: pool}, nil
}

// Close закрывает пул соединений.
func (db *Database) Close() {
	db.Pool.Close()
}

// Ping проверяет доступность базы.
func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// ListActiveSources возвращает активные источники с ключами из keys.
func (db *Database) ListActiveSources(ctx context.Context, keys []string) ([]models.FeedSource, error) {
	query, args := selectActiveSources(sqlbuilder.PostgreSQL, keys)
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feed sources: %w", err)
	}
	defer rows.Close()

	var sources []models.FeedSource
	for rows.Next() {
		var (
			src                 models.FeedSource
			url, category, name *string
		)
		if err := rows.Scan(&src.Key, &url, &src.IsActive, &category, &name); err != nil {
			return nil, fmt.Errorf("scan feed source: %w", err)
		}
		src.URL, src.Category, src.Name = deref(url), deref(category), deref(name)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed sources: %w", err)
	}
	return sources, nil
}

// ExistingURLs возвращает множество уже сохранённых url из списка.
func (db *Database) ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(urls) == 0 {
		return existing, nil
	}

	query, args := selectExistingURLs(sqlbuilder.PostgreSQL, urls)
	rows, err := db.Pool.Query(ctx, query, args...)
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

// UpsertNewsItems сохраняет пачку новостей одним запросом.
// Если запись с таким url уже есть, её поля перезаписываются.
func (db *Database) UpsertNewsItems(ctx context.Context, items []models.NewsItem) error {
	if len(items) == 0 {
		return nil
	}
	query, args := upsertNewsItems(sqlbuilder.PostgreSQL, pgEncoder, items, time.Now())
	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert news items: %w", err)
	}
	return nil
}

// UpsertSource создаёт или обновляет источник по ключу.
func (db *Database) UpsertSource(ctx context.Context, src models.FeedSource) error {
	query, args := upsertSource(sqlbuilder.PostgreSQL, src)
	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert feed source %s: %w", src.Key, err)
	}
	return nil
}

// ListNews возвращает последние новости, отсортированные по дате публикации.
func (db *Database) ListNews(ctx context.Context, q models.NewsQuery) ([]models.NewsItem, error) {
	query, args := selectNews(sqlbuilder.PostgreSQL, q, func(sb *sqlbuilder.SelectBuilder, tag string) string {
		return sb.Args.Add(tag) + " = ANY(tags)"
	})
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query news: %w", err)
	}
	defer rows.Close()

	news := []models.NewsItem{}
	for rows.Next() {
		var it models.NewsItem
		if err := rows.Scan(&it.URL, &it.Title, &it.Summary, &it.PublishedAt, &it.SourceKey, &it.Tags); err != nil {
			return nil, fmt.Errorf("scan news item: %w", err)
		}
		news = append(news, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news: %w", err)
	}
	return news, nil
}

// CountNewsSince возвращает число новостей, опубликованных после since.
func (db *Database) CountNewsSince(ctx context.Context, since time.Time) (int, error) {
	query, args := countNewsSince(sqlbuilder.PostgreSQL, since.UTC())
	var count int
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count news: %w", err)
	}
	return count, nil
}
