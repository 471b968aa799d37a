package feed

import (
	"bytes"
	"fmt"

	"github.com/mmcdole/gofeed"

	"newsfeed/internal/models"
)

var summaryFields = []string{"description", "summary", "content"}

// Document разбирает тело ответа и возвращает записи ленты с названием диалекта.
// JSON Feed разбирается gofeed и приводится к тем же узлам, что и XML.
func Document(data []byte) ([]*Node, string, error) {
	if gofeed.DetectFeedType(bytes.NewReader(data)) == gofeed.FeedTypeJSON {
		entries, err := jsonEntries(data)
		if err != nil {
			return nil, DialectJSON, err
		}
		return entries, DialectJSON, nil
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, DialectUnknown, err
	}
	entries, dialect := Entries(doc)
	return entries, dialect, nil
}

// Normalize разбирает документ и нормализует записи. Записи без ссылки отбрасываются.
func Normalize(data []byte, sourceKey string) ([]models.NewsItem, string, error) {
	entries, dialect, err := Document(data)
	if err != nil {
		return nil, dialect, err
	}

	items := make([]models.NewsItem, 0, len(entries))
	for _, entry := range entries {
		if item, ok := NormalizeEntry(entry, sourceKey); ok {
			items = append(items, item)
		}
	}
	return items, dialect, nil
}

// NormalizeEntry приводит одну запись к NewsItem. ok=false, если ссылку найти не удалось.
func NormalizeEntry(entry *Node, sourceKey string) (models.NewsItem, bool) {
	link := entryLink(entry)
	if link == "" {
		return models.NewsItem{}, false
	}

	title := StripHTML(textOf(entry.Child("title")))
	if title == "" {
		title = UntitledPlaceholder
	}

	summary := entrySummary(entry)
	tagText := title
	if summary != nil {
		tagText += " " + *summary
	}

	return models.NewsItem{
		Title:       title,
		URL:         link,
		Summary:     summary,
		PublishedAt: publishedAt(entry),
		SourceKey:   sourceKey,
		Tags:        Tags(tagText),
	}, true
}

// entryLink: первый <link> с атрибутом href, иначе текст первого <link>.
func entryLink(entry *Node) string {
	links := entry.Children("link")
	for _, l := range links {
		if href := l.Attr("href"); href != "" {
			return href
		}
	}
	if len(links) > 0 {
		return textOf(links[0])
	}
	return ""
}

func entrySummary(entry *Node) *string {
	for _, field := range summaryFields {
		s := StripHTML(textOf(entry.Child(field)))
		if s != "" {
			s = Truncate(s, SummaryMaxLen)
			return &s
		}
	}
	return nil
}

func jsonEntries(data []byte) ([]*Node, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse json feed: %w", err)
	}

	entries := make([]*Node, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		entry := newElement("item", "")
		for _, field := range []struct{ name, value string }{
			{"title", it.Title},
			{"link", it.Link},
			{"description", it.Description},
			{"content", it.Content},
			{"published", it.Published},
			{"updated", it.Updated},
		} {
			if field.value != "" {
				entry.appendChild(newElement(field.name, field.value))
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
