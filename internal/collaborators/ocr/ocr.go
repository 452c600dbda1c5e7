// Package ocr is the HTTP client for the image-to-text-and-items
// extraction service a retailer's handwritten or photographed order goes
// through before C9 ever sees it. Like gateway, this is plain net/http —
// no client library in the example pack covers outbound HTTP to a third
// party, so there is nothing idiomatic to adopt instead.
package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/arvind-mehta/orderflow-core/internal/intent"
)

// Client calls the OCR+LLM extraction service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 20 * time.Second}}
}

type extractResponse struct {
	RawText string `json:"raw_text"`
	Items   []struct {
		Quantity    int    `json:"quantity"`
		Unit        string `json:"unit"`
		ProductName string `json:"product_name"`
	} `json:"items"`
}

// Extract fetches the stored image at imageRef and returns the raw OCR text
// alongside the structured item candidates the service's own LLM pass
// extracted, for intent.ParseExtracted to resolve against the catalog.
func (c *Client) Extract(ctx context.Context, imageRef string) (rawText string, items []intent.CandidateItem, err error) {
	endpoint := c.baseURL + "/v1/extract?image_ref=" + url.QueryEscape(imageRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", nil, fmt.Errorf("ocr: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("ocr: extract %s: %w", imageRef, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("ocr: extract %s: status %d", imageRef, resp.StatusCode)
	}

	var parsed extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil, fmt.Errorf("ocr: decode extract response: %w", err)
	}

	out := make([]intent.CandidateItem, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		out = append(out, intent.CandidateItem{Quantity: it.Quantity, Unit: it.Unit, ProductName: it.ProductName})
	}
	return parsed.RawText, out, nil
}
