package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Okapi BM25 parameters, standard values.
const (
	k1 = 1.2
	b  = 0.75
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Tokenize splits text into lowercase alphanumeric runs. Digits are kept
// because policy text leans on numbers (section references, dollar amounts,
// day counts).
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Result is one ranked corpus entry. Score is a raw BM25 score; zero means
// no query term overlap.
type Result struct {
	Index int
	Score float64
}

// Index is a BM25 index over a fixed corpus. Built once per run scope and
// immutable afterwards, so it is safe for concurrent searches.
type Index struct {
	termFrequencies []map[string]int
	lengths         []int
	averageLength   float64
	idf             map[string]float64
}

func NewIndex(texts []string) *Index {
	index := &Index{
		termFrequencies: make([]map[string]int, len(texts)),
		lengths:         make([]int, len(texts)),
		idf:             make(map[string]float64),
	}

	documentFrequency := make(map[string]int)
	var totalLength int

	for i, text := range texts {
		tokens := Tokenize(text)
		index.lengths[i] = len(tokens)
		totalLength += len(tokens)

		termFrequency := make(map[string]int)
		for _, token := range tokens {
			if termFrequency[token] == 0 {
				documentFrequency[token]++
			}
			termFrequency[token]++
		}
		index.termFrequencies[i] = termFrequency
	}

	if len(texts) > 0 {
		index.averageLength = float64(totalLength) / float64(len(texts))
	}

	documentCount := float64(len(texts))
	for term, frequency := range documentFrequency {
		index.idf[term] = math.Log(1 + (documentCount-float64(frequency)+0.5)/(float64(frequency)+0.5))
	}

	return index
}

func (index *Index) Size() int {
	return len(index.lengths)
}

// TopK returns the k best corpus entries for the query. Zero-score entries
// are eligible so the result always has min(k, corpus size) ranks; ties break
// on corpus position to keep ranking deterministic.
func (index *Index) TopK(query string, k int) []Result {
	if k <= 0 || len(index.lengths) == 0 {
		return nil
	}

	queryTokens := Tokenize(query)

	results := make([]Result, len(index.lengths))
	for i := range index.lengths {
		results[i] = Result{Index: i, Score: index.score(i, queryTokens)}
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Index < results[b].Index
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (index *Index) score(documentIndex int, queryTokens []string) float64 {
	termFrequency := index.termFrequencies[documentIndex]
	documentLength := float64(index.lengths[documentIndex])

	var score float64
	for _, token := range queryTokens {
		idf, exists := index.idf[token]
		if !exists {
			continue
		}
		frequency := float64(termFrequency[token])
		if frequency == 0 {
			continue
		}
		numerator := frequency * (k1 + 1)
		denominator := frequency + k1*(1-b+b*documentLength/index.averageLength)
		score += idf * numerator / denominator
	}

	return score
}
