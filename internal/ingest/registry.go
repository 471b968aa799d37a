package ingest

import (
	"context"

	"newsfeed/internal/models"
)

// SourceLister читает административную таблицу источников.
type SourceLister interface {
	ListActiveSources(ctx context.Context, keys []string) ([]models.FeedSource, error)
}

// Registry отдаёт активные поддерживаемые источники. Пустой url заменяется
// адресом по умолчанию для ключа.
type Registry struct {
	store       SourceLister
	keys        []string
	defaultURLs map[string]string
}

func NewRegistry(store SourceLister, defaultURLs map[string]string) *Registry {
	return &Registry{
		store:       store,
		keys:        models.SupportedSourceKeys,
		defaultURLs: defaultURLs,
	}
}

// ActiveSources возвращает источники с is_active = true и поддерживаемым ключом.
// Ошибка хранилища возвращается как есть: без источников запуск невозможен.
func (r *Registry) ActiveSources(ctx context.Context) ([]models.FeedSource, error) {
	sources, err := r.store.ListActiveSources(ctx, r.keys)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		if sources[i].URL == "" {
			sources[i].URL = r.defaultURLs[sources[i].Key]
		}
	}
	return sources, nil
}
