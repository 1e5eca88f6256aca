// Package ai defines the cover-letter generation capability consumed by the
// scheduler. Concrete providers live in subpackages.
package ai

import (
	"context"

	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/profile"
)

// Letter is the generated cover letter. ID is the opaque artifact handle
// recorded in the ledger; the text itself never enters the ledger.
type Letter struct {
	ID   string
	Text string
	// Raw keeps the unparsed provider response for debugging.
	Raw string
}

// Generator composes a cover letter for one posting. Calls may be slow
// (seconds); callers must not hold platform resources for other platforms
// while waiting.
type Generator interface {
	ComposeLetter(ctx context.Context, p *profile.Profile, posting *job.Posting) (*Letter, error)
}
