package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/chirino/resume-chat/internal/document"
)

// Criteria describes what a document is scored against, typically a job
// posting. It is part of the score cache key.
type Criteria struct {
	Keywords    []string `json:"keywords,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Empty reports whether there is nothing to score against.
func (c Criteria) Empty() bool {
	return len(c.Keywords) == 0 && strings.TrimSpace(c.Description) == ""
}

// Scorer computes a compatibility score in [0, 100] plus per-section
// subscores. Implementations must be deterministic for equal inputs.
type Scorer interface {
	Score(ctx context.Context, doc document.Document, criteria Criteria) (float64, map[string]float64, error)
}

// KeywordScorer scores by the share of criteria terms that appear anywhere in
// the document. Each top-level section gets the share found in that section.
type KeywordScorer struct{}

func (KeywordScorer) Score(ctx context.Context, doc document.Document, criteria Criteria) (float64, map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	terms := criteriaTerms(criteria)
	subscores := make(map[string]float64, len(doc))
	if len(terms) == 0 {
		return 0, subscores, nil
	}

	all := map[string]struct{}{}
	for section, value := range doc {
		words := map[string]struct{}{}
		collectWords(value, words)
		for _, w := range tokenize(section) {
			words[w] = struct{}{}
		}
		subscores[section] = coverage(terms, words)
		for w := range words {
			all[w] = struct{}{}
		}
	}
	return coverage(terms, all), subscores, nil
}

func coverage(terms []string, words map[string]struct{}) float64 {
	found := 0
	for _, t := range terms {
		if _, ok := words[t]; ok {
			found++
		}
	}
	return math.Round(float64(found)/float64(len(terms))*10000) / 100
}

func criteriaTerms(c Criteria) []string {
	seen := map[string]struct{}{}
	for _, k := range c.Keywords {
		for _, w := range tokenize(k) {
			seen[w] = struct{}{}
		}
	}
	for _, w := range tokenize(c.Description) {
		if len(w) > 2 {
			seen[w] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for w := range seen {
		terms = append(terms, w)
	}
	sort.Strings(terms)
	return terms
}

func collectWords(v any, into map[string]struct{}) {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			for _, w := range tokenize(k) {
				into[w] = struct{}{}
			}
			collectWords(child, into)
		}
	case document.Document:
		collectWords(map[string]any(x), into)
	case []any:
		for _, child := range x {
			collectWords(child, into)
		}
	case string:
		for _, w := range tokenize(x) {
			into[w] = struct{}{}
		}
	case nil:
	default:
		for _, w := range tokenize(fmt.Sprint(x)) {
			into[w] = struct{}{}
		}
	}
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}

var _ Scorer = KeywordScorer{}
