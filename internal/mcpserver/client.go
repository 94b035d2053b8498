package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/licensehub/internal/retry"
)

// Config holds the configuration for connecting to a License Hub API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Brand API key, e.g. "sk_..."
	Brand  string // Brand code the API key was issued to
}

const (
	readAttempts  = 3
	readBaseDelay = 200 * time.Millisecond
)

// LicenseHubClient is a pure HTTP client for the License Hub API.
type LicenseHubClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewLicenseHubClient creates a new client for the License Hub API.
func NewLicenseHubClient(cfg Config) *LicenseHubClient {
	return &LicenseHubClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusError is returned for HTTP responses with status >= 400.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *LicenseHubClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		se := &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			se.Code = apiErr.Error
			se.Message = apiErr.Message
		}
		return nil, se
	}

	return json.RawMessage(respBody), nil
}

// doIdempotent retries network failures and 5xx responses. Client errors
// are returned at once.
func (c *LicenseHubClient) doIdempotent(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var out json.RawMessage
	err := retry.Do(ctx, readAttempts, readBaseDelay, func() error {
		raw, err := c.doRequest(ctx, method, path, query, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		out = raw
		return nil
	})
	return out, err
}

func (c *LicenseHubClient) brandPath(suffix string) string {
	return "/v1/brands/" + url.PathEscape(c.cfg.Brand) + suffix
}

// ValidateLicense reports the usable entitlements of a license key.
func (c *LicenseHubClient) ValidateLicense(ctx context.Context, licenseKey, instanceID string) (json.RawMessage, error) {
	body := map[string]any{"license_key": licenseKey}
	if instanceID != "" {
		body["instance_id"] = instanceID
	}
	return c.doIdempotent(ctx, http.MethodPost, "/v1/validate", nil, body)
}

// ListCustomerLicenses lists every license a customer holds across brands.
func (c *LicenseHubClient) ListCustomerLicenses(ctx context.Context, email string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("email", email)
	return c.doIdempotent(ctx, http.MethodGet, c.brandPath("/licenses"), q, nil)
}

// GetLicenseKey returns a license key with its licenses and activations.
func (c *LicenseHubClient) GetLicenseKey(ctx context.Context, keyID string) (json.RawMessage, error) {
	return c.doIdempotent(ctx, http.MethodGet, c.brandPath("/license-keys/"+url.PathEscape(keyID)), nil, nil)
}

// ListProducts lists the brand's product catalog.
func (c *LicenseHubClient) ListProducts(ctx context.Context) (json.RawMessage, error) {
	return c.doIdempotent(ctx, http.MethodGet, c.brandPath("/products"), nil, nil)
}

// ChangeLicenseStatus applies a lifecycle action to one license.
// expiresAt is only sent when non-empty.
func (c *LicenseHubClient) ChangeLicenseStatus(ctx context.Context, licenseID, action, expiresAt string) (json.RawMessage, error) {
	body := map[string]any{"action": action}
	if expiresAt != "" {
		body["expires_at"] = expiresAt
	}
	return c.doRequest(ctx, http.MethodPatch, c.brandPath("/licenses/"+url.PathEscape(licenseID)), nil, body)
}

// LicenseInput is one product entitlement in a provisioning request.
type LicenseInput struct {
	ProductCode string  `json:"product_code"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

// ProvisionLicense creates a license key for email, or attaches licenses to
// existingKeyID when it is set.
func (c *LicenseHubClient) ProvisionLicense(ctx context.Context, email, existingKeyID string, licenses []LicenseInput) (json.RawMessage, error) {
	body := map[string]any{"licenses": licenses}
	if existingKeyID != "" {
		body["existing_license_key_id"] = existingKeyID
	} else {
		body["customer_email"] = email
	}
	return c.doRequest(ctx, http.MethodPost, c.brandPath("/license-keys"), nil, body)
}
