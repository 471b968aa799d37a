package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Node - элемент разобранного XML-документа. Элементы пространства имён самой
// ленты получают локальное имя (rdf:RDF → RDF), элементы расширений сохраняют
// префикс (dc:date, atom:link, media:title). Текст обрезан по краям.
// Методы безопасно вызывать на nil.
type Node struct {
	name     string
	attrs    map[string]string
	text     string
	children []*Node
}

// Name возвращает локальное имя элемента.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.name
}

// Text возвращает собственный текст элемента, включая CDATA.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	return n.text
}

// Attr возвращает значение атрибута по локальному имени.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.attrs[name]
}

// Child возвращает первый дочерний элемент с именем tag или nil.
func (n *Node) Child(tag string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.name == tag {
			return c
		}
	}
	return nil
}

// Children возвращает все дочерние элементы с именем tag.
func (n *Node) Children(tag string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.children {
		if c.name == tag {
			out = append(out, c)
		}
	}
	return out
}

func newElement(name, text string) *Node {
	return &Node{name: name, text: strings.TrimSpace(text)}
}

func (n *Node) appendChild(c *Node) {
	n.children = append(n.children, c)
}

const (
	nsRDF   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsRSS10 = "http://purl.org/rss/1.0/"
)

// nsPrefixes - привычные префиксы расширений по URI пространства имён.
var nsPrefixes = map[string]string{
	"http://www.w3.org/2005/Atom":                "atom",
	"http://purl.org/dc/elements/1.1/":           "dc",
	"http://purl.org/dc/terms/":                  "dcterms",
	"http://purl.org/rss/1.0/modules/content/":   "content",
	"http://search.yahoo.com/mrss/":              "media",
	"http://www.itunes.com/dtds/podcast-1.0.dtd": "itunes",
}

// elementName оставляет локальное имя для пространств имён ленты (own),
// остальным добавляет префикс. Необъявленный префикс decoder оставляет в Space.
func elementName(name xml.Name, own map[string]bool) string {
	if own[name.Space] {
		return name.Local
	}
	prefix, ok := nsPrefixes[name.Space]
	if !ok {
		prefix = name.Space
	}
	return prefix + ":" + name.Local
}

// Parse разбирает XML в дерево. Возвращает псевдокорень, дочерний элемент
// которого - корневой элемент документа. Некорректный XML - ошибка.
func Parse(data []byte) (*Node, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = true
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel

	own := map[string]bool{"": true, nsRDF: true, nsRSS10: true}
	doc := &Node{}
	stack := []*Node{doc}
	var texts []*strings.Builder
	texts = append(texts, &strings.Builder{})

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 1 {
				own[t.Name.Space] = true
			}
			el := &Node{name: elementName(t.Name, own)}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				if el.attrs == nil {
					el.attrs = make(map[string]string, len(t.Attr))
				}
				el.attrs[a.Name.Local] = strings.TrimSpace(a.Value)
			}
			stack[len(stack)-1].appendChild(el)
			stack = append(stack, el)
			texts = append(texts, &strings.Builder{})
		case xml.EndElement:
			top := stack[len(stack)-1]
			top.text = strings.TrimSpace(texts[len(texts)-1].String())
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		case xml.CharData:
			if len(stack) > 1 {
				texts[len(texts)-1].Write(t)
			}
		}
	}

	if len(doc.children) == 0 {
		return nil, errors.New("parse xml: document has no root element")
	}
	return doc, nil
}
