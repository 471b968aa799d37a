package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	"newsfeed/internal/logger"
	"newsfeed/internal/metrics"
)

const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxAttempts = 3
	DefaultUserAgent   = "NewsfeedBot/1.0"

	acceptHeader         = "application/rss+xml, application/atom+xml, application/rdf+xml;q=0.9, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"
	acceptLanguageHeader = "fr-FR,fr;q=0.9,en;q=0.5"

	// Тело ответа больше этого размера считается ошибкой источника.
	maxBodySize = 16 << 20
)

// DefaultRetryDelays - паузы перед 2-й, 3-й и последующими попытками.
var DefaultRetryDelays = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3000 * time.Millisecond}

// Fetcher загружает XML ленты по HTTP с таймаутом на попытку и повторами.
// Безопасен для одновременного использования несколькими источниками.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	maxAttempts int
	delays      []time.Duration
	userAgent   string
	newTimer    func() backoff.Timer
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

func WithTimeout(d time.Duration) Option { return func(f *Fetcher) { f.timeout = d } }

func WithMaxAttempts(n int) Option { return func(f *Fetcher) { f.maxAttempts = n } }

func WithRetryDelays(d []time.Duration) Option { return func(f *Fetcher) { f.delays = d } }

func WithUserAgent(ua string) Option { return func(f *Fetcher) { f.userAgent = ua } }

// WithTimer подменяет таймер пауз между попытками (для тестов).
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(f *Fetcher) { f.newTimer = newTimer }
}

// New создаёт Fetcher. Таймаут задаётся контекстом попытки, а не http.Client.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      &http.Client{},
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		delays:      DefaultRetryDelays,
		userAgent:   DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.maxAttempts < 1 {
		f.maxAttempts = 1
	}
	if len(f.delays) == 0 {
		f.delays = DefaultRetryDelays
	}
	return f
}

// Fetch загружает url. Повторяет только таймауты и сетевые сбои, не более maxAttempts раз.
// Код ответа вне 2xx возвращается сразу как *StatusError, исчерпание попыток - как *ExhaustedError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	log := logger.Log.WithField("url", url)

	var (
		body     []byte
		attempts int
		fatal    error
	)
	operation := func() error {
		attempts++
		data, err := f.attempt(ctx, url)
		if err == nil {
			metrics.FetchAttempts.WithLabelValues("ok").Inc()
			body = data
			return nil
		}
		if IsRetryable(ctx, err) {
			metrics.FetchAttempts.WithLabelValues("retryable").Inc()
			return err
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			metrics.FetchAttempts.WithLabelValues("status").Inc()
		} else {
			metrics.FetchAttempts.WithLabelValues("error").Inc()
		}
		fatal = err
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempts,
			"wait":    wait.String(),
		}).Warn("Fetch attempt failed, retrying")
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&scheduleBackOff{delays: f.delays}, uint64(f.maxAttempts-1)),
		ctx,
	)
	var timer backoff.Timer
	if f.newTimer != nil {
		timer = f.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, policy, notify, timer)
	switch {
	case err == nil:
		log.WithField("attempts", attempts).Debug("Feed fetched")
		return body, nil
	case fatal != nil:
		return nil, fatal
	case ctx.Err() != nil:
		return nil, fmt.Errorf("fetch %s: %w", url, ctx.Err())
	default:
		return nil, &ExhaustedError{URL: url, Attempts: attempts, Err: err}
	}
}

// FetchFirst перебирает адреса по порядку (без повторов и пустых) и возвращает
// первый успешный ответ вместе с адресом. Любая ошибка переводит к следующему кандидату.
func (f *Fetcher) FetchFirst(ctx context.Context, urls []string) ([]byte, string, error) {
	candidates := lo.Uniq(lo.Compact(urls))
	if len(candidates) == 0 {
		return nil, "", errors.New("no candidate URLs")
	}

	var errs []error
	for i, u := range candidates {
		body, err := f.Fetch(ctx, u)
		if err == nil {
			return body, u, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		if i < len(candidates)-1 {
			metrics.FetchFallbacks.Inc()
			logger.Log.WithError(err).WithFields(logger.Fields{
				"url":  u,
				"next": candidates[i+1],
			}).Warn("Candidate URL failed, trying next")
		}
	}
	return nil, "", fmt.Errorf("all %d candidate URLs failed: %w", len(candidates), errors.Join(errs...))
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguageHeader)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", url, maxBodySize)
	}
	return body, nil
}

// scheduleBackOff отдаёт паузы по фиксированному расписанию, повторяя последнее значение.
type scheduleBackOff struct {
	delays []time.Duration
	n      int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	i := b.n
	if i >= len(b.delays) {
		i = len(b.delays) - 1
	}
	b.n++
	return b.delays[i]
}

func (b *scheduleBackOff) Reset() { b.n = 0 }
