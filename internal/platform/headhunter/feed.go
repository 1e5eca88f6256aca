package headhunter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/apply-pilot/internal/job"
)

const searchPath = "/vacancies"

// SearchParams narrows the vacancy search. Zero values are omitted from the
// query.
type SearchParams struct {
	Text       string
	Areas      []int
	Schedules  []string
	Experience string
	// Period limits results to vacancies published within the last N days.
	Period uint
}

// vacancy carries the subset of the hh.ru vacancy payload the pipeline uses.
type vacancy struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Area struct {
		Name string `json:"name"`
	} `json:"area"`
	Employer struct {
		Name string `json:"name"`
	} `json:"employer"`
	Schedule struct {
		ID string `json:"id"`
	} `json:"schedule"`
	Snippet struct {
		Requirement    string `json:"requirement"`
		Responsibility string `json:"responsibility"`
	} `json:"snippet"`
	Description string `json:"description"`
	HasTest     bool   `json:"has_test"`
	Archived    bool   `json:"archived"`
}

// Feed discovers vacancies matching the search parameters.
type Feed struct {
	client *Client
	params SearchParams
	logger *zap.Logger
}

func NewFeed(client *Client, params SearchParams, logger *zap.Logger) *Feed {
	return &Feed{client: client, params: params, logger: logger}
}

func (f *Feed) Name() string { return Name }

// Fetch runs one vacancy search and converts the results to feed items.
// Archived vacancies and ones requiring an employer test are dropped here;
// everything else is the pipeline's call.
func (f *Feed) Fetch(ctx context.Context) ([]job.Raw, error) {
	items, err := f.client.getItems(ctx, f.client.APIURL+searchPath, f.params.query())
	if err != nil {
		return nil, fmt.Errorf("searching vacancies: %w", err)
	}

	var vacancies []*vacancy
	cfg := &mapstructure.DecoderConfig{
		Result:  &vacancies,
		TagName: "json",
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("building vacancy decoder: %w", err)
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decoding vacancies: %w", err)
	}

	batch := make([]job.Raw, 0, len(vacancies))
	for _, v := range vacancies {
		if v.Archived {
			continue
		}
		if v.HasTest {
			f.logger.Debug("skipping vacancy with employer test", zap.String("id", v.ID))
			continue
		}

		batch = append(batch, job.Raw{
			Platform:    Name,
			ID:          v.ID,
			Title:       v.Name,
			Company:     v.Employer.Name,
			Location:    v.location(),
			Description: v.description(),
		})
	}

	return batch, nil
}

func (p SearchParams) query() url.Values {
	q := url.Values{}
	q.Set("per_page", perPage)

	if p.Text != "" {
		q.Set("text", p.Text)
	}
	for _, area := range p.Areas {
		q.Add("area", fmt.Sprint(area))
	}
	for _, schedule := range p.Schedules {
		q.Add("schedule", schedule)
	}
	if p.Experience != "" {
		q.Set("experience", p.Experience)
	}
	if p.Period > 0 {
		q.Set("period", fmt.Sprint(p.Period))
	}

	return q
}

func (v *vacancy) location() string {
	if v.Schedule.ID == "remote" {
		return "remote"
	}

	return v.Area.Name
}

// description prefers the full text, falling back to the search snippet.
func (v *vacancy) description() string {
	if v.Description != "" {
		return v.Description
	}

	parts := make([]string, 0, 2)
	if v.Snippet.Requirement != "" {
		parts = append(parts, v.Snippet.Requirement)
	}
	if v.Snippet.Responsibility != "" {
		parts = append(parts, v.Snippet.Responsibility)
	}

	return strings.Join(parts, " ")
}
