// Package oracle scores free-text review content for authenticity via an
// external service, with a deterministic local fallback for development.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/verity/engine/internal/core"
)

// Client produces an authenticity score in [0,100] for review text.
type Client interface {
	Score(ctx context.Context, text string) (float64, error)
}

// HTTPClient calls a remote scoring endpoint. Any transport or decode
// failure surfaces as core.ErrOracleUnavailable so callers can degrade
// to the sentinel signal instead of failing the review.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient builds a client against the given scoring endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

func (c *HTTPClient) Score(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("%w: encode request: %v", core.ErrOracleUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrOracleUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", core.ErrOracleUnavailable, resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", core.ErrOracleUnavailable, err)
	}
	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 100 {
		out.Score = 100
	}
	return out.Score, nil
}

// StaticClient is a deterministic in-process scorer for development and
// tests. The same text always maps to the same score.
type StaticClient struct{}

func (StaticClient) Score(_ context.Context, text string) (float64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, nil
	}
	h := fnv.New32a()
	h.Write([]byte(trimmed))
	// 40..100: plausible range for organic review text.
	return 40 + float64(h.Sum32()%61), nil
}
