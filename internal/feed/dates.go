package feed

import (
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Смещения аббревиатур, которые time.Parse не знает вне соответствующей локали.
var zoneOffsets = map[string]int{
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
}

// ParseDate разбирает строку даты в одном из распространённых в лентах форматов.
// Время без зоны считается UTC. Результат всегда в UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if name, offset := t.Zone(); offset == 0 {
			if fix, ok := zoneOffsets[name]; ok {
				t = t.Add(-time.Duration(fix) * time.Second)
			}
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

// dateFields - поля с датой публикации в порядке предпочтения.
var dateFields = []string{"pubDate", "published", "updated", "dc:date", "date", "isoDate"}

// publishedAt возвращает первую разбираемую дату записи или nil.
func publishedAt(entry *Node) *time.Time {
	for _, field := range dateFields {
		for _, n := range entry.Children(field) {
			if t, ok := ParseDate(unwrapText(n)); ok {
				return &t
			}
		}
	}
	return nil
}
