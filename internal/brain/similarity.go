package brain

import (
	"sort"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/floats"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"from": true, "when": true, "are": true, "was": true, "not": true, "but": true,
	"have": true, "has": true, "can": true, "should": true, "would": true, "there": true,
	"into": true, "after": true, "before": true, "then": true, "than": true, "our": true,
	"you": true, "your": true, "its": true, "also": true, "does": true, "doesn": true,
	"what": true, "which": true, "will": true, "been": true, "being": true, "all": true,
}

// Scored is a candidate with its similarity to the subject issue.
type Scored struct {
	Candidate
	Score float64
}

func tokenize(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Title terms count double: titles are short and carry most of the signal.
func documentTerms(title, body string) []string {
	t := tokenize(title)
	return append(append(t, t...), tokenize(body)...)
}

// cosine returns 0 for zero vectors.
func cosine(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// RankCandidates scores every candidate against the subject issue by cosine
// similarity of term-frequency vectors and returns the top limit with a
// positive score, most similar first.
func RankCandidates(content IssueContent, limit int) []Scored {
	if len(content.Candidates) == 0 || limit <= 0 {
		return nil
	}

	docs := make([][]string, 0, len(content.Candidates)+1)
	docs = append(docs, documentTerms(content.Title, content.Body))
	for _, c := range content.Candidates {
		docs = append(docs, documentTerms(c.Title, c.Body))
	}

	vocab := make(map[string]int)
	for _, d := range docs {
		for _, t := range d {
			if _, ok := vocab[t]; !ok {
				vocab[t] = len(vocab)
			}
		}
	}

	vectors := make([][]float64, len(docs))
	for i, d := range docs {
		v := make([]float64, len(vocab))
		for _, t := range d {
			v[vocab[t]]++
		}
		vectors[i] = v
	}

	scored := make([]Scored, 0, len(content.Candidates))
	for i, c := range content.Candidates {
		if c.Number == content.Number {
			continue
		}
		score := cosine(vectors[0], vectors[i+1])
		if score <= 0 {
			continue
		}
		scored = append(scored, Scored{Candidate: c, Score: clamp01(score)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Number < scored[j].Number
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
