package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newsfeed/internal/db"
	"newsfeed/internal/fetcher"
	"newsfeed/internal/ingest"
	"newsfeed/internal/logger"
	"newsfeed/internal/models"
)

func init() {
	logger.Discard()
}

const bofipFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>BOFiP</title>
<item>
  <title>Réforme IR 2024</title>
  <link>https://bofip.test/a1</link>
  <description>&lt;p&gt;Nouvelles règles&lt;/p&gt;</description>
  <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
</item>
</channel></rss>`

const bossFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>BOSS</title>
<item><title>Cotisations URSSAF</title><link>https://boss.test/b1</link></item>
<item><title>Retraite complémentaire</title><link>https://boss.test/b2</link></item>
<item><title>Sans lien</title></item>
</channel></rss>`

type fakeStore struct {
	mu          sync.Mutex
	sources     []models.FeedSource
	sourcesErr  error
	items       map[string]models.NewsItem
	existingErr error
	upsertErr   error
	calls       int
}

func newFakeStore(sources ...models.FeedSource) *fakeStore {
	return &fakeStore{sources: sources, items: map[string]models.NewsItem{}}
}

func (s *fakeStore) ListActiveSources(_ context.Context, _ []string) ([]models.FeedSource, error) {
	if s.sourcesErr != nil {
		return nil, s.sourcesErr
	}
	return append([]models.FeedSource(nil), s.sources...), nil
}

func (s *fakeStore) ExistingURLs(_ context.Context, urls []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.existingErr != nil {
		return nil, s.existingErr
	}
	found := map[string]bool{}
	for _, u := range urls {
		if _, ok := s.items[u]; ok {
			found[u] = true
		}
	}
	return found, nil
}

func (s *fakeStore) UpsertNewsItems(_ context.Context, items []models.NewsItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, it := range items {
		s.items[it.URL] = it
	}
	return nil
}

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  [][]string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, []string{url})
	return f.get(url)
}

func (f *fakeFetcher) FetchFirst(_ context.Context, urls []string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, urls)
	for _, u := range urls {
		if body, err := f.get(u); err == nil {
			return body, u, nil
		}
	}
	return nil, "", fmt.Errorf("all %d candidate URLs failed", len(urls))
}

func (f *fakeFetcher) get(url string) ([]byte, error) {
	body, ok := f.bodies[url]
	if !ok {
		return nil, &fetcher.StatusError{URL: url, StatusCode: http.StatusNotFound}
	}
	return []byte(body), nil
}

func TestUpsert_EmptyBatchSkipsStore(t *testing.T) {
	store := newFakeStore()
	counts, err := ingest.NewUpserter(store).Upsert(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, models.UpsertCounts{}, counts)
	require.Zero(t, store.calls)
}

func TestUpsert_ClassifiesAndCollapsesDuplicates(t *testing.T) {
	store := newFakeStore()
	store.items["https://x.test/old"] = models.NewsItem{URL: "https://x.test/old", Title: "old"}

	counts, err := ingest.NewUpserter(store).Upsert(context.Background(), []models.NewsItem{
		{URL: "https://x.test/old", Title: "old v2"},
		{URL: "https://x.test/new", Title: "first"},
		{URL: "https://x.test/new", Title: "second"},
	})
	require.NoError(t, err)
	require.Equal(t, models.UpsertCounts{Inserted: 1, Updated: 1}, counts)
	require.Equal(t, 2, store.calls)
	require.Equal(t, "first", store.items["https://x.test/new"].Title)
	require.Equal(t, "old v2", store.items["https://x.test/old"].Title)
}

func TestUpsert_StoreErrors(t *testing.T) {
	items := []models.NewsItem{{URL: "https://x.test/a", Title: "a"}}

	store := newFakeStore()
	store.existingErr = errors.New("select failed")
	_, err := ingest.NewUpserter(store).Upsert(context.Background(), items)
	require.ErrorContains(t, err, "select failed")

	store = newFakeStore()
	store.upsertErr = errors.New("insert failed")
	_, err = ingest.NewUpserter(store).Upsert(context.Background(), items)
	require.ErrorContains(t, err, "insert failed")
}

func TestRegistry_FillsDefaultURL(t *testing.T) {
	store := newFakeStore(
		models.FeedSource{Key: models.SourceBOFiP, IsActive: true},
		models.FeedSource{Key: models.SourceBOSS, URL: "https://boss.test/rss", IsActive: true},
	)
	reg := ingest.NewRegistry(store, map[string]string{
		models.SourceBOFiP: "https://bofip.test/rss",
		models.SourceBOSS:  "https://boss.test/default",
	})

	sources, err := reg.ActiveSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.Equal(t, "https://bofip.test/rss", sources[0].URL)
	require.Equal(t, "https://boss.test/rss", sources[1].URL)
}

func TestRun_SourceFailureIsIsolated(t *testing.T) {
	store := newFakeStore(
		models.FeedSource{Key: models.SourceBOFiP, URL: "https://bofip.test/rss", IsActive: true},
		models.FeedSource{Key: models.SourceBOSS, URL: "https://boss.test/rss", IsActive: true},
	)
	f := &fakeFetcher{bodies: map[string]string{"https://boss.test/rss": bossFeed}}

	result, err := ingest.NewRunner(store, f, ingest.Options{}).Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Equal(t, []string{models.SourceBOFiP, models.SourceBOSS}, result.Sources)
	require.Equal(t, 2, result.Inserted)
	require.Zero(t, result.Updated)
	require.Len(t, result.Errors, 1)
	require.Equal(t, models.SourceBOFiP, result.Errors[0].Key)
	require.Contains(t, result.Errors[0].Message, "404")

	require.Equal(t, []string{"social"}, store.items["https://boss.test/b1"].Tags)
}

func TestRun_UsesFallbacksInOrder(t *testing.T) {
	store := newFakeStore(models.FeedSource{Key: models.SourceBOFiP, URL: "https://bofip.test/primary", IsActive: true})
	f := &fakeFetcher{bodies: map[string]string{"https://bofip.test/alt2": bofipFeed}}

	result, err := ingest.NewRunner(store, f, ingest.Options{
		Fallbacks: map[string][]string{
			models.SourceBOFiP: {"https://bofip.test/alt1", "https://bofip.test/alt2"},
		},
	}).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Equal(t, 1, result.Inserted)
	require.Equal(t, [][]string{{"https://bofip.test/primary", "https://bofip.test/alt1", "https://bofip.test/alt2"}}, f.calls)

	item := store.items["https://bofip.test/a1"]
	require.Equal(t, []string{"fiscal"}, item.Tags)
	require.NotNil(t, item.Summary)
	require.Equal(t, "Nouvelles règles", *item.Summary)
}

// barrierFetcher отвечает, только когда все источники начали загрузку одновременно.
type barrierFetcher struct {
	arrived sync.WaitGroup
}

func (f *barrierFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.arrived.Done()
	done := make(chan struct{})
	go func() {
		f.arrived.Wait()
		close(done)
	}()
	select {
	case <-done:
		if strings.Contains(url, "bofip") {
			return []byte(bofipFeed), nil
		}
		return []byte(bossFeed), nil
	case <-time.After(time.Second):
		return nil, errors.New("sources fetched sequentially")
	}
}

func (f *barrierFetcher) FetchFirst(ctx context.Context, urls []string) ([]byte, string, error) {
	body, err := f.Fetch(ctx, urls[0])
	return body, urls[0], err
}

func TestRun_SourcesRunConcurrently(t *testing.T) {
	store := newFakeStore(
		models.FeedSource{Key: models.SourceBOFiP, URL: "https://bofip.test/rss", IsActive: true},
		models.FeedSource{Key: models.SourceBOSS, URL: "https://boss.test/rss", IsActive: true},
	)
	f := &barrierFetcher{}
	f.arrived.Add(2)

	result, err := ingest.NewRunner(store, f, ingest.Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Equal(t, 3, result.Inserted)
	require.Zero(t, result.Updated)
}

func TestRun_LoadSourcesFailure(t *testing.T) {
	store := newFakeStore()
	store.sourcesErr = errors.New("connection refused")

	result, err := ingest.NewRunner(store, &fakeFetcher{}, ingest.Options{}).Run(context.Background())
	require.Error(t, err)
	require.ErrorContains(t, err, "connection refused")
	require.Nil(t, result)
}

func TestRun_NoSources(t *testing.T) {
	result, err := ingest.NewRunner(newFakeStore(), &fakeFetcher{}, ingest.Options{}).Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Empty(t, result.Sources)
	require.NotNil(t, result.Errors)
	require.Zero(t, result.Inserted)
}

func TestRun_ParseFailureRecorded(t *testing.T) {
	store := newFakeStore(models.FeedSource{Key: models.SourceBOSS, URL: "https://boss.test/rss", IsActive: true})
	f := &fakeFetcher{bodies: map[string]string{"https://boss.test/rss": "<rss><channel>"}}

	result, err := ingest.NewRunner(store, f, ingest.Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0].Message, "parse feed")
	require.Zero(t, store.calls)
}

func TestRun_IdempotentAgainstSQLite(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, bofipFeed)
	}))
	defer ts.Close()

	store, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	require.NoError(t, store.UpsertSource(ctx, models.FeedSource{Key: models.SourceBOFiP, IsActive: true}))

	runner := ingest.NewRunner(store, fetcher.New(fetcher.WithTimeout(2*time.Second)), ingest.Options{
		DefaultURLs: map[string]string{models.SourceBOFiP: ts.URL},
	})

	first, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Inserted)
	require.Zero(t, first.Updated)

	second, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, second.Inserted)
	require.Equal(t, 1, second.Updated)

	news, err := store.ListNews(ctx, models.NewsQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, news, 1)
	require.Equal(t, "Réforme IR 2024", news[0].Title)
	require.Equal(t, "2024-01-01T10:00:00.000Z", *news[0].PublishedISO())
}

func TestStartPolling_StopsOnCancel(t *testing.T) {
	store := newFakeStore()
	runner := ingest.NewRunner(store, &fakeFetcher{}, ingest.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ingest.StartPolling(ctx, runner, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
