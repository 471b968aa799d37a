package feed

// Диалекты лент в порядке приоритета.
const (
	DialectRSS     = "rss"
	DialectAtom    = "atom"
	DialectChannel = "channel"
	DialectRDF     = "rdf"
	DialectJSON    = "json"
	DialectUnknown = "unknown"
)

type extractor struct {
	dialect string
	entries func(doc *Node) []*Node
}

// extractors проверяются по порядку; побеждает первый непустой список.
// Порядок важен для документов, подходящих под несколько схем.
var extractors = []extractor{
	{DialectRSS, func(doc *Node) []*Node { return doc.Child("rss").Child("channel").Children("item") }},
	{DialectAtom, func(doc *Node) []*Node { return doc.Child("feed").Children("entry") }},
	{DialectChannel, func(doc *Node) []*Node { return doc.Child("channel").Children("item") }},
	{DialectRDF, func(doc *Node) []*Node { return doc.Child("RDF").Children("item") }},
}

// Entries извлекает записи ленты и название распознанного диалекта.
// Если ни одна схема не подошла, возвращается пустой список и DialectUnknown.
func Entries(doc *Node) ([]*Node, string) {
	for _, ex := range extractors {
		if items := ex.entries(doc); len(items) > 0 {
			return items, ex.dialect
		}
	}
	return []*Node{}, DialectUnknown
}
