package job

import (
	"fmt"
	"strings"
	"time"
)

// Key identifies a posting by its platform and the platform-native ID.
// It is the deduplication boundary: the same key is never ingested twice.
type Key struct {
	Platform string
	ID       string
}

func (k Key) String() string {
	return k.Platform + "/" + k.ID
}

// Valid reports whether both parts of the key are present.
func (k Key) Valid() bool {
	return k.Platform != "" && k.ID != ""
}

// Raw is a posting as produced by a feed, before embedding and scoring.
type Raw struct {
	Platform    string
	ID          string
	Title       string
	Company     string
	Location    string
	Description string
}

func (r Raw) Key() Key {
	return Key{Platform: r.Platform, ID: r.ID}
}

// Text returns the posting text used for embedding and keyword matching.
func (r Raw) Text() string {
	parts := []string{r.Title, r.Company, r.Location, r.Description}
	return strings.Join(parts, " ")
}

// Posting is a stored job posting. Immutable once persisted.
type Posting struct {
	Key          Key
	Title        string
	Company      string
	Location     string
	Description  string
	Embedding    []float64
	DiscoveredAt time.Time
}

// FromRaw builds a Posting from a feed item and its embedding.
func FromRaw(r Raw, embedding []float64, discoveredAt time.Time) (*Posting, error) {
	key := r.Key()
	if !key.Valid() {
		return nil, fmt.Errorf("posting key is incomplete: %q", key)
	}

	return &Posting{
		Key:          key,
		Title:        r.Title,
		Company:      r.Company,
		Location:     r.Location,
		Description:  r.Description,
		Embedding:    embedding,
		DiscoveredAt: discoveredAt,
	}, nil
}

// Text returns the posting text used for keyword matching.
func (p *Posting) Text() string {
	parts := []string{p.Title, p.Company, p.Location, p.Description}
	return strings.Join(parts, " ")
}
