package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"newsfeed/internal/feed"
	"newsfeed/internal/logger"
	"newsfeed/internal/metrics"
	"newsfeed/internal/models"
)

// Store объединяет всё, что нужно запуску от хранилища.
type Store interface {
	SourceLister
	NewsWriter
}

// FeedFetcher загружает документ ленты по одному адресу или по списку запасных.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	FetchFirst(ctx context.Context, urls []string) ([]byte, string, error)
}

// Options задают адреса по умолчанию и запасные адреса по ключу источника.
type Options struct {
	DefaultURLs map[string]string
	Fallbacks   map[string][]string
}

// Runner выполняет один проход приёма по всем активным источникам.
type Runner struct {
	registry  *Registry
	fetcher   FeedFetcher
	upserter  *Upserter
	fallbacks map[string][]string
}

func NewRunner(store Store, f FeedFetcher, opts Options) *Runner {
	return &Runner{
		registry:  NewRegistry(store, opts.DefaultURLs),
		fetcher:   f,
		upserter:  NewUpserter(store),
		fallbacks: opts.Fallbacks,
	}
}

type outcome struct {
	counts models.UpsertCounts
	err    error
}

// Run загружает источники и обрабатывает их параллельно. Ошибка возвращается
// только если источники не удалось загрузить; сбой одного источника попадает
// в RunResult.Errors и не влияет на остальные.
func (r *Runner) Run(ctx context.Context) (*models.RunResult, error) {
	start := time.Now()
	defer func() { metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	sources, err := r.registry.ActiveSources(ctx)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to load feed sources")
		return nil, fmt.Errorf("load sources: %w", err)
	}

	// Каждый источник пишет только в свою ячейку outcomes.
	outcomes := make([]outcome, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts, err := r.runIsolated(ctx, src)
			outcomes[i] = outcome{counts: counts, err: err}
		}()
	}
	wg.Wait()

	result := &models.RunResult{
		OK:      true,
		Sources: lo.Map(sources, func(s models.FeedSource, _ int) string { return s.Key }),
		Errors:  []models.SourceError{},
	}
	for i, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, models.SourceError{Key: sources[i].Key, Message: o.err.Error()})
		}
	}
	ok := lo.Filter(outcomes, func(o outcome, _ int) bool { return o.err == nil })
	result.Inserted = lo.SumBy(ok, func(o outcome) int { return o.counts.Inserted })
	result.Updated = lo.SumBy(ok, func(o outcome) int { return o.counts.Updated })

	logger.Log.WithFields(logger.Fields{
		"sources":  len(sources),
		"inserted": result.Inserted,
		"updated":  result.Updated,
		"errors":   len(result.Errors),
		"duration": time.Since(start).String(),
	}).Info("Ingestion run finished")

	return result, nil
}

// runIsolated превращает панику в конвейере источника в ошибку этого источника.
func (r *Runner) runIsolated(ctx context.Context, src models.FeedSource) (counts models.UpsertCounts, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.SourceRuns.WithLabelValues(src.Key, result).Inc()
	}()
	return r.RunSource(ctx, src)
}

// RunSource выполняет конвейер одного источника: загрузка, разбор, запись.
func (r *Runner) RunSource(ctx context.Context, src models.FeedSource) (models.UpsertCounts, error) {
	log := logger.WithSource(src.Key)

	body, used, err := r.fetch(ctx, src)
	if err != nil {
		log.WithError(err).Error("Failed to fetch feed")
		return models.UpsertCounts{}, err
	}
	log = log.WithField("url", used)

	items, dialect, err := feed.Normalize(body, src.Key)
	if err != nil {
		log.WithError(err).Error("Failed to parse feed")
		return models.UpsertCounts{}, fmt.Errorf("parse feed: %w", err)
	}
	metrics.FeedDialects.WithLabelValues(dialect).Inc()
	log.WithFields(logger.Fields{
		"dialect": dialect,
		"items":   len(items),
	}).Debug("Feed parsed")

	counts, err := r.upserter.Upsert(ctx, items)
	if err != nil {
		log.WithError(err).Error("Failed to store items")
		return models.UpsertCounts{}, err
	}
	metrics.ItemsUpserted.WithLabelValues(src.Key, "inserted").Add(float64(counts.Inserted))
	metrics.ItemsUpserted.WithLabelValues(src.Key, "updated").Add(float64(counts.Updated))

	log.WithFields(logger.Fields{
		"inserted": counts.Inserted,
		"updated":  counts.Updated,
	}).Info("Source processed")
	return counts, nil
}

func (r *Runner) fetch(ctx context.Context, src models.FeedSource) ([]byte, string, error) {
	if alts := r.fallbacks[src.Key]; len(alts) > 0 {
		return r.fetcher.FetchFirst(ctx, append([]string{src.URL}, alts...))
	}
	if src.URL == "" {
		return nil, "", errors.New("no URL configured for source")
	}
	body, err := r.fetcher.Fetch(ctx, src.URL)
	return body, src.URL, err
}
