package ingest

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"newsfeed/internal/models"
)

// NewsWriter - операции хранилища новостей, нужные для дедупликации и записи.
type NewsWriter interface {
	ExistingURLs(ctx context.Context, urls []string) (map[string]bool, error)
	UpsertNewsItems(ctx context.Context, items []models.NewsItem) error
}

// Upserter классифицирует записи как новые или обновлённые и пишет их одним upsert.
type Upserter struct {
	store NewsWriter
}

func NewUpserter(store NewsWriter) *Upserter {
	return &Upserter{store: store}
}

// Upsert сохраняет записи по url. Счётчики берутся из проверки существования
// до записи, а не из результата upsert. Повторы url внутри пачки схлопываются,
// остаётся первое вхождение.
func (u *Upserter) Upsert(ctx context.Context, items []models.NewsItem) (models.UpsertCounts, error) {
	if len(items) == 0 {
		return models.UpsertCounts{}, nil
	}

	batch := lo.UniqBy(items, func(it models.NewsItem) string { return it.URL })
	urls := lo.Map(batch, func(it models.NewsItem, _ int) string { return it.URL })

	existing, err := u.store.ExistingURLs(ctx, urls)
	if err != nil {
		return models.UpsertCounts{}, fmt.Errorf("check existing urls: %w", err)
	}

	updated := lo.CountBy(urls, func(url string) bool { return existing[url] })
	counts := models.UpsertCounts{
		Inserted: len(urls) - updated,
		Updated:  updated,
	}

	if err := u.store.UpsertNewsItems(ctx, batch); err != nil {
		return models.UpsertCounts{}, fmt.Errorf("upsert items: %w", err)
	}
	return counts, nil
}
