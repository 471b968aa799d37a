package models

import (
	"encoding/json"
	"time"
)

// Ключи поддерживаемых источников.
const (
	SourceBOFiP = "bofip"
	SourceBOSS  = "boss"
)

// Тематические теги новости.
const (
	TagFiscal = "fiscal"
	TagSocial = "social"
)

// SupportedSourceKeys - источники, которые обрабатывает конвейер.
var SupportedSourceKeys = []string{SourceBOFiP, SourceBOSS}

// FeedSource описывает одну внешнюю ленту из таблицы feed_sources.
// Category и Name - справочные поля, конвейер их не использует.
type FeedSource struct {
	Key      string `json:"key" toml:"key"`
	URL      string `json:"url,omitempty" toml:"url"`
	IsActive bool   `json:"is_active" toml:"is_active"`
	Category string `json:"category,omitempty" toml:"category"`
	Name     string `json:"name,omitempty" toml:"name"`
}

// NewsItem - нормализованная запись ленты. URL является ключом дедупликации.
type NewsItem struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Summary     *string    `json:"summary"`
	PublishedAt *time.Time `json:"-"`
	SourceKey   string     `json:"source_key"`
	Tags        []string   `json:"tags"`
}

// ISOLayout - ISO 8601 в UTC с миллисекундами.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// FormatISO возвращает момент времени в формате ISOLayout.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// PublishedISO возвращает дату публикации строкой или nil.
func (n NewsItem) PublishedISO() *string {
	if n.PublishedAt == nil {
		return nil
	}
	s := FormatISO(*n.PublishedAt)
	return &s
}

// MarshalJSON выводит published_at в формате ISOLayout.
func (n NewsItem) MarshalJSON() ([]byte, error) {
	type alias NewsItem
	return json.Marshal(struct {
		alias
		PublishedAt *string `json:"published_at"`
	}{alias: alias(n), PublishedAt: n.PublishedISO()})
}

// NewsQuery - фильтры выборки новостей для ленты.
type NewsQuery struct {
	Limit     int
	SourceKey string
	Tag       string
}
