package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"newsfeed/internal/logger"
	"newsfeed/internal/models"
)

// CronSecretHeader - заголовок с секретом для планировщика.
const CronSecretHeader = "X-Cron-Secret"

const (
	defaultNewsLimit = 10
	maxNewsLimit     = 100
)

// Ingester запускает один проход приёма.
type Ingester interface {
	Run(ctx context.Context) (*models.RunResult, error)
}

// NewsReader - чтение сохранённых новостей для API.
type NewsReader interface {
	ListNews(ctx context.Context, q models.NewsQuery) ([]models.NewsItem, error)
	CountNewsSince(ctx context.Context, since time.Time) (int, error)
	Ping(ctx context.Context) error
}

// Server хранит зависимости HTTP-обработчиков.
type Server struct {
	ingester Ingester
	news     NewsReader
	secret   string
	limiter  *rate.Limiter
}

// NewServer создаёт Server. limiter может быть nil, тогда триггер не ограничен.
func NewServer(ingester Ingester, news NewsReader, secret string, limiter *rate.Limiter) *Server {
	return &Server{
		ingester: ingester,
		news:     news,
		secret:   secret,
		limiter:  limiter,
	}
}

// NewLimiter переводит лимит в запросах в минуту в rate.Limiter; 0 отключает лимит.
func NewLimiter(perMinute float64, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60), burst)
}

// Routes собирает маршруты и оборачивает их в middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ingest", s.Trigger)
	mux.HandleFunc("GET /api/news", s.GetNews)
	mux.HandleFunc("GET /api/news/count", s.GetNewNewsCount)
	mux.HandleFunc("GET /health", s.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	return RequestIDMiddleware(LoggingMiddleware(mux))
}

// Trigger запускает проход приёма. Секрет проверяется до любой другой работы.
// После загрузки источников ответ всегда 200, ошибки источников лежат в теле.
func (s *Server) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.secret == "" {
		logger.Log.Error("Ingest secret is not configured")
		writeError(w, http.StatusInternalServerError, "server secret is not configured")
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many ingestion requests")
		return
	}

	// Начатый проход не отменяется вместе с запросом.
	result, err := s.ingester.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.Header.Get(CronSecretHeader)
	if auth := r.Header.Get("Authorization"); token == "" && auth != "" {
		var ok bool
		token, ok = strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return false
		}
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.secret)) == 1
}

// HealthCheck отвечает 200 OK, если хранилище доступно, иначе 503.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.news.Ping(r.Context()); err != nil {
		http.Error(w, "DB unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("OK"))
}

// GetNews возвращает JSON-массив последних новостей. Параметры: limit (1..100),
// source и tag.
func (s *Server) GetNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultNewsLimit
	}
	if limit > maxNewsLimit {
		limit = maxNewsLimit
	}

	news, err := s.news.ListNews(r.Context(), models.NewsQuery{
		Limit:     limit,
		SourceKey: q.Get("source"),
		Tag:       q.Get("tag"),
	})
	if err != nil {
		logger.Log.WithError(err).Error("Failed to list news")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if news == nil {
		news = []models.NewsItem{}
	}
	writeJSON(w, http.StatusOK, news)
}

// GetNewNewsCount возвращает JSON {"count": N} с количеством новостей,
// опубликованных после времени since в параметре запроса.
func (s *Server) GetNewNewsCount(w http.ResponseWriter, r *http.Request) {
	since, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
	if err != nil {
		http.Error(w, "Invalid time format", http.StatusBadRequest)
		return
	}

	count, err := s.news.CountNewsSince(r.Context(), since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{OK: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("Failed to encode response")
	}
}
