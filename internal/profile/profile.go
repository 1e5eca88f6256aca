// Package profile holds the candidate profile used for matching. The profile
// is built once at startup and never mutated during a run.
package profile

import (
	"sort"
	"strconv"
	"strings"
)

// Profile is the normalized candidate profile.
type Profile struct {
	Skills          map[string]struct{}
	ExperienceYears int
	Locations       map[string]struct{}
	Keywords        []string
	Summary         string
	Embedding       []float64
}

// New normalizes the raw profile inputs. Skills, locations and keywords are
// lowercased and trimmed; empty entries are dropped.
func New(skills []string, experienceYears int, locations, keywords []string, summary string) *Profile {
	p := &Profile{
		Skills:          normalizeSet(skills),
		ExperienceYears: experienceYears,
		Locations:       normalizeSet(locations),
		Summary:         strings.TrimSpace(summary),
	}

	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			p.Keywords = append(p.Keywords, kw)
		}
	}

	return p
}

// Text returns the text representation of the profile used as embedding input.
func (p *Profile) Text() string {
	parts := make([]string, 0, 4)

	if p.Summary != "" {
		parts = append(parts, p.Summary)
	}
	if len(p.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(sortedKeys(p.Skills), ", "))
	}
	if len(p.Keywords) > 0 {
		parts = append(parts, "Keywords: "+strings.Join(p.Keywords, ", "))
	}
	parts = append(parts, "Experience: "+strconv.Itoa(p.ExperienceYears)+" years")

	return strings.Join(parts, " ")
}

// WantsLocation reports whether the candidate listed the location as desired.
func (p *Profile) WantsLocation(location string) bool {
	_, ok := p.Locations[strings.ToLower(strings.TrimSpace(location))]
	return ok
}

func normalizeSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
