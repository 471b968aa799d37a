package feed

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"newsfeed/internal/models"
)

// SummaryMaxLen - предельная длина summary в символах (рунах).
const SummaryMaxLen = 350

// UntitledPlaceholder подставляется вместо пустого заголовка.
const UntitledPlaceholder = "Untitled"

var (
	tagPattern = regexp.MustCompile(`<[^>]*>`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)

	fiscalKeywords = []string{"IR", "IFI", "PFU", "RSA", "BNC", "BIC", "IS"}
	socialKeywords = []string{"cotisations", "urssaf", "exonération", "prévoyance", "mutuelle", "retraite"}
)

// StripHTML удаляет теги, раскрывает фиксированный набор сущностей
// и схлопывает пробельные последовательности.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = tagPattern.ReplaceAllString(s, "")
	s = entityReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Truncate обрезает строку до max рун, не разрывая многобайтовые символы.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// Tags выводит тематические теги из текста (заголовок + summary).
// Налоговые аббревиатуры ищутся в тексте как есть, социальные слова - в нижнем регистре.
func Tags(text string) []string {
	tags := []string{}
	for _, kw := range fiscalKeywords {
		if strings.Contains(text, kw) {
			tags = append(tags, models.TagFiscal)
			break
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range socialKeywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, models.TagSocial)
			break
		}
	}
	return tags
}

// textOf: собственный текст элемента, иначе текст дочернего <text>, иначе "".
func textOf(n *Node) string {
	if n == nil {
		return ""
	}
	if t := n.Text(); t != "" {
		return t
	}
	return n.Child("text").Text()
}

// unwrapText спускается по вложенным <text>, пока не найдёт непустой текст.
func unwrapText(n *Node) string {
	for n != nil {
		if t := n.Text(); t != "" {
			return t
		}
		n = n.Child("text")
	}
	return ""
}
