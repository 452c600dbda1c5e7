// Package catalog is the HTTP client for the product catalog service,
// satisfying the two narrow interfaces the core needs from it:
// intent.CatalogLookup (fuzzy name resolution during parsing) and
// dispatcher.ProductPricer (current list price at order time).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arvind-mehta/orderflow-core/internal/domain"
	"github.com/arvind-mehta/orderflow-core/internal/intent"
	"github.com/arvind-mehta/orderflow-core/internal/platform/money"
)

// FuzzyMatchMargin is how much closer the best candidate must be to the
// second-best before a fuzzy match is trusted outright instead of treated
// as ambiguous; a near-tie is exactly the case a retailer should be asked
// to disambiguate rather than have silently guessed at.
const FuzzyMatchMargin = 0.05

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

type searchCandidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolveProduct implements intent.CatalogLookup. A candidate from the
// service's own search whose name matches exactly (case-insensitive) is
// trusted immediately; otherwise the client falls back to token-set
// similarity against the whole candidate set, per spec.md §4.9 step 3.
// Only candidate names are compared: product aliases are not matched.
func (c *Client) ResolveProduct(name string) (productID string, matchedName string, ambiguous bool, found bool) {
	candidates, err := c.search(context.Background(), name)
	if err != nil || len(candidates) == 0 {
		return "", "", false, false
	}

	for _, cand := range candidates {
		if strings.EqualFold(cand.Name, name) {
			return cand.ID, cand.Name, false, true
		}
	}

	best, second := bestTwo(candidates, name)
	if best.score < intent.FuzzyThreshold {
		return "", "", false, false
	}
	if best.score-second.score < FuzzyMatchMargin {
		return "", "", true, true
	}
	return best.candidate.ID, best.candidate.Name, false, true
}

type scoredCandidate struct {
	candidate searchCandidate
	score     float64
}

func bestTwo(candidates []searchCandidate, name string) (best, second scoredCandidate) {
	for _, cand := range candidates {
		score := intent.TokenSetSimilarity(cand.Name, name)
		switch {
		case score > best.score:
			second = best
			best = scoredCandidate{candidate: cand, score: score}
		case score > second.score:
			second = scoredCandidate{candidate: cand, score: score}
		}
	}
	return best, second
}

func (c *Client) search(ctx context.Context, query string) ([]searchCandidate, error) {
	endpoint := c.baseURL + "/v1/products/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build search request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: search %q: %w", query, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog: search %q: status %d", query, resp.StatusCode)
	}

	var candidates []searchCandidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("catalog: decode search response: %w", err)
	}
	return candidates, nil
}

type priceResponse struct {
	UnitPrice string `json:"unit_price"`
}

type productResponse struct {
	Name string `json:"name"`
}

// ProductName looks up a product's display name, used by the quick-reorder
// notifier to render a human-readable item list rather than raw product ids.
func (c *Client) ProductName(ctx context.Context, productID string) (string, error) {
	endpoint := c.baseURL + "/v1/products/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("catalog: build product request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("catalog: get product %s: %w", productID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catalog: get product %s: status %d", productID, resp.StatusCode)
	}

	var parsed productResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("catalog: decode product response: %w", err)
	}
	return parsed.Name, nil
}

// PriceItem implements dispatcher.ProductPricer: it fetches the product's
// current list price and returns a fully priced OrderItem.
func (c *Client) PriceItem(ctx context.Context, productID string, quantity int) (domain.OrderItem, bool, error) {
	endpoint := c.baseURL + "/v1/products/" + url.PathEscape(productID) + "/price"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.OrderItem{}, false, fmt.Errorf("catalog: build price request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.OrderItem{}, false, fmt.Errorf("catalog: price %s: %w", productID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.OrderItem{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return domain.OrderItem{}, false, fmt.Errorf("catalog: price %s: status %d", productID, resp.StatusCode)
	}

	var parsed priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.OrderItem{}, false, fmt.Errorf("catalog: decode price response: %w", err)
	}

	unitPrice, err := money.FromString(parsed.UnitPrice)
	if err != nil {
		return domain.OrderItem{}, false, fmt.Errorf("catalog: parse unit price for %s: %w", productID, err)
	}

	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	return domain.OrderItem{ProductID: productID, Quantity: quantity, UnitPrice: unitPrice, Subtotal: subtotal}, true, nil
}
