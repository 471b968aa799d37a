package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"newsfeed/internal/models"
)

// Config хранит настройки сервиса: хранилище, секрет запуска, параметры загрузки лент.
type Config struct {
	Addr         string        `json:"addr" yaml:"addr"`
	DatabaseURL  string        `json:"database_url" yaml:"database_url"`
	CronSecret   string        `json:"cron_secret" yaml:"cron_secret"`
	LogLevel     string        `json:"log_level" yaml:"log_level"`
	PollInterval int           `json:"poll_interval" yaml:"poll_interval"`
	Fetch        FetchConfig   `json:"fetch" yaml:"fetch"`
	Sources      SourcesConfig `json:"sources" yaml:"sources"`
	Trigger      TriggerConfig `json:"trigger" yaml:"trigger"`
}

// FetchConfig - таймаут, расписание повторов и заголовки HTTP-загрузчика.
type FetchConfig struct {
	TimeoutMS     int    `json:"timeout_ms" yaml:"timeout_ms"`
	MaxAttempts   int    `json:"max_attempts" yaml:"max_attempts"`
	RetryDelaysMS []int  `json:"retry_delays_ms" yaml:"retry_delays_ms"`
	UserAgent     string `json:"user_agent" yaml:"user_agent"`
}

// SourcesConfig - адреса по умолчанию (если в БД url пуст) и запасные адреса по ключу источника.
type SourcesConfig struct {
	DefaultURLs map[string]string   `json:"default_urls" yaml:"default_urls"`
	Fallbacks   map[string][]string `json:"fallbacks" yaml:"fallbacks"`
}

// TriggerConfig ограничивает частоту вызовов эндпоинта запуска.
type TriggerConfig struct {
	RatePerMinute float64 `json:"rate_per_minute" yaml:"rate_per_minute"`
	Burst         int     `json:"burst" yaml:"burst"`
}

var (
	ErrMissingDatabaseURL = errors.New("database url is not configured")
	ErrMissingSecret      = errors.New("cron secret is not configured")
)

// Default возвращает конфигурацию со значениями по умолчанию.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Fetch: FetchConfig{
			TimeoutMS:     15000,
			MaxAttempts:   3,
			RetryDelaysMS: []int{500, 1500, 3000},
			UserAgent:     "NewsfeedBot/1.0 (+veille fiscale et sociale)",
		},
		Sources: SourcesConfig{
			DefaultURLs: map[string]string{
				models.SourceBOFiP: "https://bofip.impots.gouv.fr/bofip/ext/rss/actualites.xml",
				models.SourceBOSS:  "https://boss.gouv.fr/portail/fil-rss-boss-rescrit/pagecontent/flux-actualites.rss",
			},
			Fallbacks: map[string][]string{
				models.SourceBOFiP: {
					"https://bofip.impots.gouv.fr/bofip/ext/rss/actualites.xml",
					"https://bofip.impots.gouv.fr/rss/actualites.xml",
					"https://bofip.impots.gouv.fr/actualites/rss",
				},
			},
		},
		Trigger: TriggerConfig{
			RatePerMinute: 6,
			Burst:         2,
		},
	}
}

// Validate проверяет интервал опроса (0 или ≥ 5 секунд), параметры загрузки и все URL источников.
func (cfg *Config) Validate() error {
	if cfg.PollInterval != 0 && cfg.PollInterval < 5 {
		return errors.New("poll interval must be 0 or ≥ 5 seconds")
	}
	if cfg.Fetch.TimeoutMS <= 0 {
		return errors.New("fetch timeout must be positive")
	}
	if cfg.Fetch.MaxAttempts < 1 {
		return errors.New("fetch max attempts must be ≥ 1")
	}
	if len(cfg.Fetch.RetryDelaysMS) == 0 {
		return errors.New("fetch retry delays must not be empty")
	}
	for _, d := range cfg.Fetch.RetryDelaysMS {
		if d < 0 {
			return fmt.Errorf("invalid retry delay: %d", d)
		}
	}
	for key, u := range cfg.Sources.DefaultURLs {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("invalid RSS URL for %s: %s", key, u)
		}
	}
	for key, urls := range cfg.Sources.Fallbacks {
		for _, u := range urls {
			if _, err := url.ParseRequestURI(u); err != nil {
				return fmt.Errorf("invalid fallback URL for %s: %s", key, u)
			}
		}
	}
	if cfg.Trigger.RatePerMinute < 0 || cfg.Trigger.Burst < 0 {
		return errors.New("trigger rate and burst must not be negative")
	}
	return nil
}

// RequireStore сообщает об отсутствии строки подключения к хранилищу.
func (cfg *Config) RequireStore() error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return ErrMissingDatabaseURL
	}
	return nil
}

// RequireSecret сообщает об отсутствии секрета запуска.
func (cfg *Config) RequireSecret() error {
	if cfg.CronSecret == "" {
		return ErrMissingSecret
	}
	return nil
}

// FetchTimeout возвращает таймаут одной попытки загрузки.
func (cfg *Config) FetchTimeout() time.Duration {
	return time.Duration(cfg.Fetch.TimeoutMS) * time.Millisecond
}

// RetryDelays возвращает расписание пауз между попытками.
func (cfg *Config) RetryDelays() []time.Duration {
	delays := make([]time.Duration, len(cfg.Fetch.RetryDelaysMS))
	for i, ms := range cfg.Fetch.RetryDelaysMS {
		delays[i] = time.Duration(ms) * time.Millisecond
	}
	return delays
}

// PollEvery возвращает интервал фонового опроса; 0 - опрос выключен.
func (cfg *Config) PollEvery() time.Duration {
	return time.Duration(cfg.PollInterval) * time.Second
}

// LoadConfig читает JSON- или YAML-файл (по расширению) поверх значений по умолчанию.
// Пустой path возвращает Default().
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode json config: %w", err)
		}
	}
	return cfg, nil
}
