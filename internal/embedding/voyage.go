package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultVoyageAPI = "https://api.voyageai.com/v1/embeddings"

// Voyage is an Embedder backed by the Voyage AI embeddings API.
type Voyage struct {
	apiKey    string
	model     string
	dimension int

	// APIURL and HTTPClient are overridable for tests.
	APIURL     string
	HTTPClient *http.Client
}

// NewVoyage builds a Voyage client. The dimension is enforced on every
// response; a provider-side change surfaces as ErrDimensionMismatch instead
// of corrupting the ledger.
func NewVoyage(apiKey, model string, dimension int) (*Voyage, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("voyage api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("voyage model is required")
	}

	return &Voyage{
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		APIURL:     defaultVoyageAPI,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type voyageRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding vector for the given text.
func (v *Voyage) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody, err := json.Marshal(voyageRequest{Input: []string{text}, Model: v.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.APIURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("api error (status %d): %s", resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, body)
	}

	var apiResp voyageResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	vector := apiResp.Data[0].Embedding
	if v.dimension > 0 && len(vector) != v.dimension {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, v.dimension, len(vector))
	}

	return vector, nil
}
