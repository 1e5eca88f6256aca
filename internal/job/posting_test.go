package job

import (
	"testing"
	"time"
)

func TestKeyString(t *testing.T) {
	key := Key{Platform: "headhunter", ID: "42"}
	if key.String() != "headhunter/42" {
		t.Fatalf("unexpected key form: %s", key)
	}
}

func TestKeyValid(t *testing.T) {
	if !(Key{Platform: "headhunter", ID: "42"}).Valid() {
		t.Fatalf("expected complete key to be valid")
	}
	if (Key{Platform: "headhunter"}).Valid() {
		t.Fatalf("expected key without id to be invalid")
	}
	if (Key{ID: "42"}).Valid() {
		t.Fatalf("expected key without platform to be invalid")
	}
}

func TestFromRaw(t *testing.T) {
	raw := Raw{
		Platform:    "headhunter",
		ID:          "42",
		Title:       "Go Developer",
		Company:     "Acme",
		Location:    "Berlin",
		Description: "Build services",
	}

	discovered := time.Unix(100, 0)
	posting, err := FromRaw(raw, []float64{0.1}, discovered)
	if err != nil {
		t.Fatalf("building posting: %v", err)
	}

	if posting.Key != raw.Key() {
		t.Fatalf("key lost: %s", posting.Key)
	}
	if !posting.DiscoveredAt.Equal(discovered) {
		t.Fatalf("discovery time lost: %s", posting.DiscoveredAt)
	}
	if posting.Text() != raw.Text() {
		t.Fatalf("posting text must match the feed item text")
	}
}

func TestFromRawRejectsIncompleteKey(t *testing.T) {
	if _, err := FromRaw(Raw{Platform: "headhunter"}, nil, time.Now()); err == nil {
		t.Fatalf("expected error for incomplete key")
	}
}
