package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	tokenLifetime    = 6 * time.Hour
	refreshLeeway    = time.Minute
	tokenHTTPTimeout = 5 * time.Second
)

// TokenClient obtains a bearer token from the auth service using a technical
// account and caches it until shortly before expiry. Acquisition failure
// clears the cache so availability writes fall back to anonymous calls
// instead of being blocked on the auth service.
type TokenClient struct {
	AuthBaseURL string
	Username    string
	Password    string

	HTTP *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewTokenClient(authBaseURL, username, password string) *TokenClient {
	return &TokenClient{
		AuthBaseURL: authBaseURL,
		Username:    username,
		Password:    password,
		HTTP:        &http.Client{Timeout: tokenHTTPTimeout},
		now:         time.Now,
	}
}

// Token returns the cached token, refreshing it when it is within one minute
// of expiry. Returns "" when no credentials are configured or the last
// acquisition failed.
func (c *TokenClient) Token(ctx context.Context) string {
	if c.Username == "" || c.Password == "" {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().After(c.expiresAt.Add(-refreshLeeway)) {
		c.refresh(ctx)
	}
	return c.token
}

func (c *TokenClient) refresh(ctx context.Context) {
	body, _ := json.Marshal(map[string]string{
		"username": c.Username,
		"password": c.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthBaseURL+"/login", bytes.NewReader(body))
	if err != nil {
		c.clear(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.clear(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.clear(fmt.Errorf("auth service returned %d", resp.StatusCode))
		return
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		c.clear(fmt.Errorf("invalid login response: %v", err))
		return
	}
	c.token = out.Token
	c.expiresAt = c.now().Add(tokenLifetime)
	log.Printf("integration token refreshed")
}

// clear drops the cached token so the next availability write goes out
// anonymously and the next Token call retries acquisition.
func (c *TokenClient) clear(err error) {
	log.Printf("integration token acquisition failed: %v", err)
	c.token = ""
	c.expiresAt = time.Time{}
}
