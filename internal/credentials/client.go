package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Credentials is what the external credential service hands out per tenant.
type Credentials struct {
	AccessToken string    `json:"access_token"`
	AccountIDs  []string  `json:"account_ids"`
	AdAccountID string    `json:"ad_account_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// HasAdAccount reports whether campaign syncing applies to this tenant.
func (c Credentials) HasAdAccount() bool {
	return c.AdAccountID != ""
}

// Client fetches per-tenant provider credentials. A missing or expired token
// surfaces as an ordinary error and flows through the standard retry policy.
type Client interface {
	GetClientCredentials(ctx context.Context, tenantID string) (Credentials, error)
}

// HTTPClient talks to the credential service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) GetClientCredentials(ctx context.Context, tenantID string) (Credentials, error) {
	url := fmt.Sprintf("%s/tenants/%s/credentials", c.baseURL, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("build credentials request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("fetch credentials for tenant %s: %w", tenantID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credentials{}, fmt.Errorf("credential service returned %d for tenant %s", resp.StatusCode, tenantID)
	}

	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return Credentials{}, fmt.Errorf("credential service returned empty token for tenant %s", tenantID)
	}
	if !creds.ExpiresAt.IsZero() && time.Now().After(creds.ExpiresAt) {
		return Credentials{}, fmt.Errorf("credentials expired for tenant %s at %s", tenantID, creds.ExpiresAt.Format(time.RFC3339))
	}
	return creds, nil
}
