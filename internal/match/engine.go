// Package match computes the combined match score between the candidate
// profile and a job posting. Scoring is a pure function of its inputs: no
// I/O, no clock, no randomness.
package match

import (
	"fmt"
	"math"
	"strings"

	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/profile"
)

// Score is the derived match result for one posting. Superseded scores are
// discarded, never mutated.
type Score struct {
	Key      job.Key
	Cosine   float64
	Rules    float64
	Combined float64
	Pass     bool
}

// Engine holds the scoring weights and the pass threshold.
type Engine struct {
	similarityWeight float64
	rulesWeight      float64
	threshold        float64
}

// NewEngine validates the weights and returns a scoring engine. The two
// weights must sum to 1.
func NewEngine(similarityWeight, rulesWeight, threshold float64) (*Engine, error) {
	if math.Abs(similarityWeight+rulesWeight-1) > 1e-9 {
		return nil, fmt.Errorf("scoring weights must sum to 1, got %v + %v", similarityWeight, rulesWeight)
	}
	if similarityWeight < 0 || rulesWeight < 0 {
		return nil, fmt.Errorf("scoring weights must not be negative")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be within [0,1], got %v", threshold)
	}

	return &Engine{
		similarityWeight: similarityWeight,
		rulesWeight:      rulesWeight,
		threshold:        threshold,
	}, nil
}

// Score computes the combined score for the posting.
func (e *Engine) Score(p *profile.Profile, posting *job.Posting) Score {
	cosine := clamp01(Cosine(p.Embedding, posting.Embedding))
	rules := e.ruleFeatures(p, posting)
	combined := clamp01(e.similarityWeight*cosine + e.rulesWeight*rules)

	return Score{
		Key:      posting.Key,
		Cosine:   cosine,
		Rules:    rules,
		Combined: combined,
		Pass:     combined >= e.threshold,
	}
}

// ruleFeatures is the bounded [0,1] aggregate of keyword overlap, location
// match and experience fit.
func (e *Engine) ruleFeatures(p *profile.Profile, posting *job.Posting) float64 {
	features := []float64{
		keywordOverlap(p, posting),
		locationFeature(p, posting),
		experienceFeature(p, posting),
	}

	var sum float64
	for _, f := range features {
		sum += f
	}
	return sum / float64(len(features))
}

// keywordOverlap is the share of desired keywords found in the posting text.
// A profile without keywords contributes a neutral 0.5.
func keywordOverlap(p *profile.Profile, posting *job.Posting) float64 {
	if len(p.Keywords) == 0 {
		return 0.5
	}

	text := strings.ToLower(posting.Text())
	hits := 0
	for _, kw := range p.Keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}

	return float64(hits) / float64(len(p.Keywords))
}

// locationFeature maps exact matches to 1, remote-compatible postings to 0.5
// and mismatches to 0. Missing location on either side is neutral.
func locationFeature(p *profile.Profile, posting *job.Posting) float64 {
	location := strings.ToLower(strings.TrimSpace(posting.Location))
	if location == "" || len(p.Locations) == 0 {
		return 0.5
	}

	if p.WantsLocation(location) {
		return 1
	}
	if strings.Contains(location, "remote") {
		// Remote postings fit any candidate unless they asked for it
		// explicitly, in which case WantsLocation already matched.
		return 0.5
	}
	return 0
}

// experienceFeature grades how the candidate's years fit the posting's
// requested band. Postings that do not state a requirement are neutral.
func experienceFeature(p *profile.Profile, posting *job.Posting) float64 {
	required, ok := requiredYears(posting)
	if !ok {
		return 0.5
	}

	years := float64(p.ExperienceYears)
	switch {
	case years < float64(required):
		return 0
	case years <= float64(required)+5:
		return 1
	default:
		// Far above the band: decay towards 0.5 as overqualification grows.
		over := years - float64(required) - 5
		return math.Max(0.5, 1-over*0.05)
	}
}

// requiredYears extracts a minimal experience requirement from the posting
// text. Levels follow the original posting taxonomy.
func requiredYears(posting *job.Posting) (int, bool) {
	text := strings.ToLower(posting.Text())

	levels := []struct {
		marker string
		years  int
	}{
		{"executive", 10},
		{"senior", 7},
		{"mid-level", 4},
		{"associate", 2},
		{"entry", 0},
		{"junior", 0},
	}

	for _, l := range levels {
		if strings.Contains(text, l.marker) {
			return l.years, true
		}
	}
	return 0, false
}

// Cosine computes similarity between two vectors. Mismatched lengths and
// zero-magnitude vectors yield 0, never an error.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Less orders scores for dispatch: higher combined first, ties broken by
// higher cosine, then by earlier discovery.
func Less(a, b Score, discoveredA, discoveredB int64) bool {
	if a.Combined != b.Combined {
		return a.Combined > b.Combined
	}
	if a.Cosine != b.Cosine {
		return a.Cosine > b.Cosine
	}
	return discoveredA < discoveredB
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
