package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Scan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/scan", r.URL.Path)

		var req ScanRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tag-1", req.NFCTagID)

		json.NewEncoder(w).Encode(ScanResult{
			Product:    &Product{ID: "p1", TrustScore: 92},
			ChainValid: true,
			TagHolders: 1,
			Verdict:    VerdictGenuine,
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	result, err := client.Scan(context.Background(), ScanRequest{NFCTagID: "tag-1", Location: "Store"})
	require.NoError(t, err)
	assert.Equal(t, VerdictGenuine, result.Verdict)
	assert.True(t, result.ChainValid)
}

func TestClient_Scan_OnSuspectCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ScanResult{Verdict: VerdictDuplicateTag, TagHolders: 2})
	}))
	defer srv.Close()

	var captured *ScanResult
	client := NewClient(Config{
		BaseURL:   srv.URL,
		OnSuspect: func(r *ScanResult) { captured = r },
	})

	result, err := client.Scan(context.Background(), ScanRequest{NFCTagID: "tag-x", Location: "Street"})
	require.NoError(t, err)
	require.NotNil(t, captured, "non-genuine verdict must trigger the callback")
	assert.Equal(t, result.Verdict, captured.Verdict)
}

func TestClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "product ghost: unknown product"})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL})
	_, err := client.Product(context.Background(), "ghost")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "unknown product")
}

func TestClient_AuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]Product{})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "secret"})
	_, err := client.Products(context.Background())
	require.NoError(t, err)
}
