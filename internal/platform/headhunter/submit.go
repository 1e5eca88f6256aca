package headhunter

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/ai"
	"github.com/spigell/apply-pilot/internal/job"
	"github.com/spigell/apply-pilot/internal/scheduler"
)

const negotiationPath = "/negotiations"

// Submitter applies to vacancies by posting negotiations with a cover letter.
type Submitter struct {
	client   *Client
	resumeID string
	logger   *zap.Logger
}

func NewSubmitter(client *Client, resumeID string, logger *zap.Logger) *Submitter {
	return &Submitter{client: client, resumeID: resumeID, logger: logger}
}

func (s *Submitter) Platform() string { return Name }

// Submit posts a negotiation for the vacancy and classifies the response.
func (s *Submitter) Submit(ctx context.Context, posting *job.Posting, letter *ai.Letter) (scheduler.Outcome, error) {
	data := map[string]string{
		"resume_id":  s.resumeID,
		"vacancy_id": posting.Key.ID,
		"message":    letter.Text,
	}

	status, err := s.client.postForm(ctx, s.client.APIURL+negotiationPath, data)
	if err != nil {
		// Network-level faults are indistinguishable from a flaky connection.
		return scheduler.OutcomeRetryable, err
	}

	return classify(status)
}

// classify maps the negotiation response status to a submission outcome.
// 403 is how hh.ru answers automated traffic it dislikes, so it is treated
// as a detection signal rather than a plain rejection.
func classify(status int) (scheduler.Outcome, error) {
	switch {
	case status == http.StatusCreated:
		return scheduler.OutcomeOK, nil
	case status == http.StatusForbidden:
		return scheduler.OutcomeDetected, fmt.Errorf("negotiation rejected: %s", http.StatusText(status))
	case status == http.StatusTooManyRequests:
		return scheduler.OutcomeRetryable, fmt.Errorf("negotiation throttled: %s", http.StatusText(status))
	case status >= 500:
		return scheduler.OutcomeRetryable, fmt.Errorf("negotiation failed: %d %s", status, http.StatusText(status))
	default:
		return scheduler.OutcomeFatal, fmt.Errorf("negotiation refused: %d %s", status, http.StatusText(status))
	}
}
