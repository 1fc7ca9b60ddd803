// Package sdk is the Go client for the trust engine API.
//
// Point-of-sale integrations scan a tag and act on the verdict:
//
//	client := sdk.NewClient(sdk.Config{BaseURL: "https://verity.example.com"})
//	result, err := client.Scan(ctx, sdk.ScanRequest{
//	    NFCTagID: tagID,
//	    Location: "Store Berlin",
//	})
//	if result.Verdict != sdk.VerdictGenuine {
//	    // hold the sale, surface result.Breakdown to the operator
//	}
//
// Supply-chain integrations push provenance events as goods move:
//
//	_, err := client.RecordEvent(ctx, productID, sdk.RecordEventRequest{
//	    Kind:     "shipping",
//	    Location: "Rotterdam",
//	    Status:   "verified",
//	})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the engine endpoint, e.g. "http://localhost:8080".
	BaseURL string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// Timeout bounds each request (default 15s).
	Timeout time.Duration

	// OnSuspect, when set, is called for every scan whose verdict is not
	// genuine. Useful for point-of-sale hooks that log or escalate.
	OnSuspect func(result *ScanResult)
}

// Client is the trust engine API client. All methods are safe for
// concurrent use.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient creates a client for the given engine endpoint.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is a non-2xx response from the engine.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("verity: %d %s", e.StatusCode, e.Message)
}

// RegisterProduct creates a listing.
func (c *Client) RegisterProduct(ctx context.Context, req RegisterProductRequest) (*Product, error) {
	var p Product
	if err := c.do(ctx, http.MethodPost, "/api/products", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Product fetches one product.
func (c *Client) Product(ctx context.Context, id string) (*Product, error) {
	var p Product
	if err := c.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Products lists every registered product.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var out []Product
	if err := c.do(ctx, http.MethodGet, "/api/products", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordEvent appends a provenance event to a product's chain.
func (c *Client) RecordEvent(ctx context.Context, productID string, req RecordEventRequest) (*ProvenanceEvent, error) {
	var ev ProvenanceEvent
	path := "/api/products/" + url.PathEscape(productID) + "/events"
	if err := c.do(ctx, http.MethodPost, path, req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Events returns a product's chain, oldest first.
func (c *Client) Events(ctx context.Context, productID string) ([]ProvenanceEvent, error) {
	var out []ProvenanceEvent
	path := "/api/products/" + url.PathEscape(productID) + "/events"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyChain re-hashes a product's full chain server-side.
func (c *Client) VerifyChain(ctx context.Context, productID string) (*ChainVerification, error) {
	var v ChainVerification
	path := "/api/products/" + url.PathEscape(productID) + "/verify"
	if err := c.do(ctx, http.MethodGet, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// TrustBreakdown returns the per-signal trust decomposition.
func (c *Client) TrustBreakdown(ctx context.Context, productID string) (*TrustBreakdown, error) {
	var b TrustBreakdown
	path := "/api/products/" + url.PathEscape(productID) + "/trust"
	if err := c.do(ctx, http.MethodGet, path, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Scan verifies a scanned item and records the scan on its chain.
func (c *Client) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	var result ScanResult
	if err := c.do(ctx, http.MethodPost, "/api/scan", req, &result); err != nil {
		return nil, err
	}
	if result.Verdict != VerdictGenuine && c.config.OnSuspect != nil {
		c.config.OnSuspect(&result)
	}
	return &result, nil
}

// SubmitReview submits a review for authenticity scoring.
func (c *Client) SubmitReview(ctx context.Context, req SubmitReviewRequest) error {
	return c.do(ctx, http.MethodPost, "/api/reviews", req, nil)
}

// RegisterSeller onboards a seller credential.
func (c *Client) RegisterSeller(ctx context.Context, req RegisterSellerRequest) (*SellerCredential, error) {
	var cred SellerCredential
	if err := c.do(ctx, http.MethodPost, "/api/sellers", req, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// Seller fetches one seller credential.
func (c *Client) Seller(ctx context.Context, sellerID string) (*SellerCredential, error) {
	var cred SellerCredential
	if err := c.do(ctx, http.MethodGet, "/api/sellers/"+url.PathEscape(sellerID), nil, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// RecordStrike registers a counterfeit strike against a seller.
func (c *Client) RecordStrike(ctx context.Context, sellerID string) (*StrikeResult, error) {
	var res StrikeResult
	path := "/api/sellers/" + url.PathEscape(sellerID) + "/strike"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetAuthorizedChannels replaces a manufacturer's authorized distributor
// locations.
func (c *Client) SetAuthorizedChannels(ctx context.Context, manufacturerID string, locations []string) error {
	path := "/api/manufacturers/" + url.PathEscape(manufacturerID) + "/channels"
	body := map[string][]string{"locations": locations}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// Alerts lists moderation alerts, newest first.
func (c *Client) Alerts(ctx context.Context) ([]ModerationAlert, error) {
	var out []ModerationAlert
	if err := c.do(ctx, http.MethodGet, "/api/alerts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveAlert resolves a moderation alert.
func (c *Client) ResolveAlert(ctx context.Context, alertID, actor string) (*ModerationAlert, error) {
	var a ModerationAlert
	path := "/api/alerts/" + url.PathEscape(alertID) + "/resolve"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"actor": actor}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Dashboard fetches the aggregate analytics snapshot.
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/analytics/dashboard", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("verity: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("verity: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("verity: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		if envelope.Error == "" {
			envelope.Error = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("verity: decode response: %w", err)
	}
	return nil
}
