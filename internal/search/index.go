// Package search is a small in-memory lexical index over published blog
// posts. It is immutable once built and safe for concurrent readers; the blog
// service swaps in a fresh index whenever the set of published posts changes.
//
// Scoring is Jaccard similarity between the query token set and the document
// token set, score = |Q ∩ D| / |Q ∪ D|, plus a boost for tokens that also
// occur in the title.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Document is one searchable post.
type Document struct {
	ID    string
	Title string
	Text  string
}

// Result is a ranked document id with its score and a short excerpt.
type Result struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Excerpt string  `json:"excerpt"`
}

// Index answers ranked queries.
type Index interface {
	TopK(query string, k int) []Result
	Len() int
}

// Option configures New.
type Option func(*options)

type options struct {
	stopwords  map[string]struct{}
	titleBoost float64
	excerpt    int
}

// WithStopwords drops the given words from documents and queries.
func WithStopwords(words []string) Option {
	return func(o *options) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			if w = fold(strings.TrimSpace(w)); w != "" {
				m[w] = struct{}{}
			}
		}
		o.stopwords = m
	}
}

// WithTitleBoost sets the per-token bonus for title matches.
func WithTitleBoost(b float64) Option {
	return func(o *options) {
		if b >= 0 {
			o.titleBoost = b
		}
	}
}

// DefaultStopwords are common English function words.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "how",
	"in", "is", "it", "of", "on", "or", "the", "to", "what", "with", "your",
}

type doc struct {
	id     string
	text   string
	tokens map[string]struct{}
	title  map[string]struct{}
}

type index struct {
	opts options
	docs []doc
}

// New builds an index from docs. Documents without any tokens are skipped.
func New(docs []Document, opts ...Option) Index {
	o := options{titleBoost: 0.1, excerpt: 200}
	for _, fn := range opts {
		fn(&o)
	}
	ix := &index{opts: o, docs: make([]doc, 0, len(docs))}
	for _, d := range docs {
		text := normalizeWhitespace(d.Title + "\n" + d.Text)
		toks := tokenize(text, o.stopwords)
		if len(toks) == 0 {
			continue
		}
		ix.docs = append(ix.docs, doc{
			id:     d.ID,
			text:   normalizeWhitespace(d.Text),
			tokens: toks,
			title:  tokenize(d.Title, o.stopwords),
		})
	}
	return ix
}

func (i *index) Len() int { return len(i.docs) }

// TopK returns up to k best-matching documents. Ties break on id so the
// order is deterministic.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 || strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 10
	}
	qt := tokenize(q, i.opts.stopwords)
	if len(qt) == 0 {
		return nil
	}

	out := make([]Result, 0, min(k*2, len(i.docs)))
	for _, d := range i.docs {
		over := overlap(qt, d.tokens)
		if over == 0 {
			continue
		}
		score := float64(over) / float64(len(qt)+len(d.tokens)-over)
		score += i.opts.titleBoost * float64(overlap(qt, d.title))
		out = append(out, Result{ID: d.id, Score: score, Excerpt: excerpt(d.text, i.opts.excerpt)})
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].ID < out[b].ID
	})
	if k < len(out) {
		out = out[:k]
	}
	return out
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// fold lowercases and strips diacritics so "Café" matches "cafe".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if r, _, err := transform.String(t, s); err == nil {
		s = r
	}
	return strings.ToLower(s)
}

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(fold(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
