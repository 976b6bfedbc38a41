package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Gateway wraps the external Catalog service. The engine never distinguishes
// transport errors, non-2xx statuses, and malformed bodies: a write either
// succeeded or it did not, and local state must not change on anything but a
// confirmed success.
type Gateway struct {
	BaseURL string
	Tokens  *TokenClient
	HTTP    *http.Client
}

func NewGateway(baseURL string, tokens *TokenClient) *Gateway {
	return &Gateway{
		BaseURL: baseURL,
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

type book struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	TotalCount     *int   `json:"total_count"`
	AvailableCount *int   `json:"available_count"`
}

// Availability reads the live unit counter for an item.
func (g *Gateway) Availability(ctx context.Context, itemID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/api/books/"+itemID, nil)
	if err != nil {
		return 0, err
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("catalog returned %d for item %s", resp.StatusCode, itemID)
	}
	var b book
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return 0, fmt.Errorf("decode catalog response: %w", err)
	}
	if b.AvailableCount == nil {
		return 0, fmt.Errorf("catalog response for item %s has no availability", itemID)
	}
	return *b.AvailableCount, nil
}

// Decrement takes one unit from the item's counter. Reports false when the
// item is unknown, exhausted, or the Catalog cannot be reached.
func (g *Gateway) Decrement(ctx context.Context, itemID string) bool {
	avail, err := g.Availability(ctx, itemID)
	if err != nil || avail <= 0 {
		return false
	}
	return g.updateAvailability(ctx, itemID, -1)
}

// Increment returns one unit to the item's counter.
func (g *Gateway) Increment(ctx context.Context, itemID string) bool {
	return g.updateAvailability(ctx, itemID, +1)
}

func (g *Gateway) updateAvailability(ctx context.Context, itemID string, change int) bool {
	url := fmt.Sprintf("%s/api/books/%s/availability?change=%d", g.BaseURL, itemID, change)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, nil)
	if err != nil {
		return false
	}
	if token := g.Tokens.Token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
