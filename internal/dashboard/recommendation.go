package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/eutopia/collabdash/internal/table"
)

const (
	defaultRecommendationTimeout = 10 * time.Second

	// maxRecommendationBody caps how much of a response is read.
	maxRecommendationBody = 1 << 20

	// RecommendationUnavailableMessage is shown in place of recommendations
	// when the service cannot answer.
	RecommendationUnavailableMessage = "Recommendation service unavailable"
)

// ErrServiceUnavailable is wrapped by every recommendation failure.
var ErrServiceUnavailable = errors.New("recommendation service unavailable")

// RecommendationClient asks the external recommendation service for
// collaborators an author has not yet worked with.
type RecommendationClient struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewRecommendationClient returns a client for endpoint. A non-positive
// timeout uses the default of ten seconds.
func NewRecommendationClient(endpoint string, timeout time.Duration) *RecommendationClient {
	if timeout <= 0 {
		timeout = defaultRecommendationTimeout
	}
	return &RecommendationClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
	}
}

// Recommend POSTs {"author_id": authorID} and returns the identifiers in the
// JSON array the service answers with. Any transport failure, non-200
// status or unexpected body wraps ErrServiceUnavailable.
func (c *RecommendationClient) Recommend(ctx context.Context, authorID string) ([]string, error) {
	if c == nil || c.endpoint == "" {
		return nil, fmt.Errorf("%w: no endpoint configured", ErrServiceUnavailable)
	}

	body, err := json.Marshal(struct {
		AuthorID string `json:"author_id"`
	}{AuthorID: authorID})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %w", ErrServiceUnavailable, err)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxWithTimeout, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrServiceUnavailable, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxRecommendationBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrServiceUnavailable, err)
	}
	return parseRecommendations(content)
}

// parseRecommendations accepts a JSON array of strings or numbers.
func parseRecommendations(content []byte) ([]string, error) {
	if !gjson.ValidBytes(content) {
		return nil, fmt.Errorf("%w: response is not JSON", ErrServiceUnavailable)
	}
	doc := gjson.ParseBytes(content)
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: response is not a JSON array", ErrServiceUnavailable)
	}

	ids := []string{}
	var bad error
	doc.ForEach(func(_, v gjson.Result) bool {
		switch v.Type {
		case gjson.String:
			ids = append(ids, v.Str)
		case gjson.Number:
			ids = append(ids, v.Raw)
		default:
			bad = fmt.Errorf("%w: unexpected %s element in response", ErrServiceUnavailable, v.Type)
			return false
		}
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return ids, nil
}

// recommendationsTable lays ids out as a one-column table.
func recommendationsTable(ids []string) *table.Table {
	t := table.New("recommended_author_id")
	for _, id := range ids {
		// Strings are always scalar.
		_ = t.Append(id)
	}
	return t
}
