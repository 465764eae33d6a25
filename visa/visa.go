// Package visa looks up visa types/statuses from the CRICOS classification
// API. Every call first obtains a bearer token with the password grant.
package visa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
)

// DefaultOrigin is the student origin used when none is given.
const DefaultOrigin = "OverseasStudent"

const (
	opToken    = "failed to get access token"
	opStatuses = "failed to fetch visa statuses"
)

// ErrNotConfigured is returned when the base URL or credentials are missing.
var ErrNotConfigured = errors.New("CRICOS API credentials not configured")

// Sources reported by StatusesDetailed.
const (
	SourceAPI          = "cricos_api"
	SourceConfigError  = "configuration_error"
	SourceAPIError     = "api_error"
	SourceNetworkError = "network_error"
)

// Option is one selectable visa type/status.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// DefaultStatuses returns the options offered when the API is unavailable.
// The first entry is the empty placeholder.
func DefaultStatuses() []Option {
	return []Option{
		{Value: "", Label: "Please select visa type/status"},
		{Value: "Student Visa (500)", Label: "Student Visa (500)"},
		{Value: "Tourist Visa (600)", Label: "Tourist Visa (600)"},
		{Value: "Working Holiday Visa (417)", Label: "Working Holiday Visa (417)"},
		{Value: "Work and Holiday Visa (462)", Label: "Work and Holiday Visa (462)"},
		{Value: "Temporary Graduate Visa (485)", Label: "Temporary Graduate Visa (485)"},
		{Value: "Other", Label: "Other"},
	}
}

// Credentials identify the API account.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

func (c Credentials) configured() bool {
	return c.BaseURL != "" && c.Username != "" && c.Password != ""
}

// Client talks to the classification API. Tokens are reused until shortly
// before they expire. A Client is safe for concurrent use.
type Client struct {
	creds  Credentials
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New returns a Client. A nil httpClient uses a 30s-timeout default and a nil
// logger discards logs.
func New(creds Credentials, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	return &Client{
		creds:  creds,
		http:   httpClient,
		logger: logger,
		now:    time.Now,
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.Body)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// accessToken returns a cached token or fetches a new one.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.creds.Username)
	form.Set("password", c.creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, _, err := c.do(req, opToken)
	if err != nil {
		return "", err
	}

	var tok tokenResponse
	if err := decodeTolerant(body, &tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("no access token in response")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Time{}
	if tok.ExpiresIn > 0 {
		// refresh a minute early
		c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	}
	return c.token, nil
}

// do sends req and returns the body and status of a 2xx response.
func (c *Client) do(req *http.Request, op string) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s: reading body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, resp.StatusCode, nil
}

// StatusesURL returns the lookup URL for origin.
func (c *Client) StatusesURL(origin string) string {
	if origin == "" {
		origin = DefaultOrigin
	}
	return c.creds.BaseURL + "/api/Classification/VisaStatuses?Origin=" + url.QueryEscape(origin)
}

// Statuses fetches the visa statuses for origin as returned by the API.
func (c *Client) Statuses(ctx context.Context, origin string) (json.RawMessage, error) {
	data, _, err := c.statuses(ctx, origin)
	return data, err
}

// statuses is Statuses that also reports the HTTP status of the lookup.
func (c *Client) statuses(ctx context.Context, origin string) (json.RawMessage, int, error) {
	if !c.creds.configured() {
		return nil, 0, ErrNotConfigured
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StatusesURL(origin), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating statuses request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req, opStatuses)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.resetToken()
		}
		return nil, status, err
	}

	var data json.RawMessage
	if err := decodeTolerant(body, &data); err != nil {
		return nil, status, fmt.Errorf("decoding visa statuses: %w", err)
	}
	return data, status, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// decodeTolerant unmarshals body, repairing it first when it is not valid
// JSON (trailing commas, single quotes and the like).
func decodeTolerant(body []byte, v any) error {
	err := json.Unmarshal(body, v)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(string(body))
	if repairErr != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), v)
}
