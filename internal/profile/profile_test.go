package profile

import (
	"strings"
	"testing"
)

func TestNewNormalizes(t *testing.T) {
	p := New(
		[]string{" Go ", "KUBERNETES", ""},
		8,
		[]string{"Berlin", " "},
		[]string{" Golang ", ""},
		"  Backend engineer  ",
	)

	if _, ok := p.Skills["go"]; !ok {
		t.Fatalf("expected lowercased trimmed skill, got %v", p.Skills)
	}
	if _, ok := p.Skills[""]; ok {
		t.Fatalf("empty skills must be dropped")
	}
	if len(p.Keywords) != 1 || p.Keywords[0] != "golang" {
		t.Fatalf("unexpected keywords: %v", p.Keywords)
	}
	if p.Summary != "Backend engineer" {
		t.Fatalf("expected trimmed summary, got %q", p.Summary)
	}
}

func TestWantsLocation(t *testing.T) {
	p := New(nil, 0, []string{"Berlin"}, nil, "")

	if !p.WantsLocation(" BERLIN ") {
		t.Fatalf("location matching must be case-insensitive")
	}
	if p.WantsLocation("Amsterdam") {
		t.Fatalf("unlisted location must not match")
	}
}

func TestTextIsStable(t *testing.T) {
	p := New([]string{"kubernetes", "go"}, 8, nil, []string{"backend"}, "Engineer")

	text := p.Text()
	if text != p.Text() {
		t.Fatalf("profile text must be deterministic")
	}

	for _, part := range []string{"Engineer", "go, kubernetes", "backend", "8 years"} {
		if !strings.Contains(text, part) {
			t.Fatalf("expected %q in profile text, got %q", part, text)
		}
	}
}
