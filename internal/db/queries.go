package db

import (
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"

	"newsfeed/internal/models"
)

// encoder приводит значения к виду, понятному конкретному драйверу.
type encoder struct {
	tags func([]string) interface{}
	time func(time.Time) interface{}
}

func (e encoder) optionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return e.time(*t)
}

func selectActiveSources(flavor sqlbuilder.Flavor, keys []string) (string, []interface{}) {
	sb := flavor.NewSelectBuilder()
	sb.Select("key", "url", "is_active", "category", "name").
		From("feed_sources").
		Where(
			sb.Equal("is_active", true),
			sb.In("key", lo.ToAnySlice(keys)...),
		).
		OrderBy("key")
	return sb.Build()
}

func selectExistingURLs(flavor sqlbuilder.Flavor, urls []string) (string, []interface{}) {
	sb := flavor.NewSelectBuilder()
	sb.Select("url").
		From("news_items").
		Where(sb.In("url", lo.ToAnySlice(urls)...))
	return sb.Build()
}

// upsertNewsItems строит один INSERT на всю пачку; конфликт по url обновляет запись.
func upsertNewsItems(flavor sqlbuilder.Flavor, enc encoder, items []models.NewsItem, now time.Time) (string, []interface{}) {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto("news_items").
		Cols("url", "title", "summary", "published_at", "source_key", "tags", "updated_at")
	for _, it := range items {
		ib.Values(
			it.URL,
			it.Title,
			optional(it.Summary),
			enc.optionalTime(it.PublishedAt),
			it.SourceKey,
			enc.tags(it.Tags),
			enc.time(now),
		)
	}
	ib.SQL(`ON CONFLICT (url) DO UPDATE SET
		title = EXCLUDED.title,
		summary = EXCLUDED.summary,
		published_at = EXCLUDED.published_at,
		source_key = EXCLUDED.source_key,
		tags = EXCLUDED.tags,
		updated_at = EXCLUDED.updated_at`)
	return ib.Build()
}

func upsertSource(flavor sqlbuilder.Flavor, src models.FeedSource) (string, []interface{}) {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto("feed_sources").
		Cols("key", "url", "is_active", "category", "name").
		Values(src.Key, nullable(src.URL), src.IsActive, nullable(src.Category), nullable(src.Name))
	ib.SQL(`ON CONFLICT (key) DO UPDATE SET
		url = EXCLUDED.url,
		is_active = EXCLUDED.is_active,
		category = EXCLUDED.category,
		name = EXCLUDED.name`)
	return ib.Build()
}

// selectNews - последние новости с фильтрами; tagCond зависит от диалекта SQL.
func selectNews(flavor sqlbuilder.Flavor, q models.NewsQuery, tagCond func(sb *sqlbuilder.SelectBuilder, tag string) string) (string, []interface{}) {
	sb := flavor.NewSelectBuilder()
	sb.Select("url", "title", "summary", "published_at", "source_key", "tags").
		From("news_items")
	if q.SourceKey != "" {
		sb.Where(sb.Equal("source_key", q.SourceKey))
	}
	if q.Tag != "" {
		sb.Where(tagCond(sb, q.Tag))
	}
	sb.OrderBy("published_at DESC NULLS LAST", "id DESC").Limit(q.Limit)
	return sb.Build()
}

func countNewsSince(flavor sqlbuilder.Flavor, since interface{}) (string, []interface{}) {
	sb := flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").
		From("news_items").
		Where(sb.GreaterThan("published_at", since))
	return sb.Build()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func optional(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
