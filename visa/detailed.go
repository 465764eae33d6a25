package visa

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// CredentialPresence reports which settings are present, never their values.
type CredentialPresence struct {
	Username bool `json:"username"`
	Password bool `json:"password"`
	BaseURL  bool `json:"baseUrl"`
}

// Detailed is the outcome of a lookup including how it was obtained.
// Data always holds something usable: the API payload or DefaultStatuses.
type Detailed struct {
	Success     bool               `json:"success"`
	Data        any                `json:"data"`
	Error       string             `json:"error,omitempty"`
	Source      string             `json:"source"`
	APIURL      string             `json:"apiUrl"`
	Credentials CredentialPresence `json:"credentials"`
	Status      int                `json:"status,omitempty"`
	Timestamp   string             `json:"timestamp"`
}

// StatusesDetailed is Statuses that never fails: errors are recorded in the
// result and the default options are returned as data.
func (c *Client) StatusesDetailed(ctx context.Context, origin string) Detailed {
	res := Detailed{
		Source: "unknown",
		Credentials: CredentialPresence{
			Username: c.creds.Username != "",
			Password: c.creds.Password != "",
			BaseURL:  c.creds.BaseURL != "",
		},
		Timestamp: c.now().UTC().Format(time.RFC3339Nano),
	}

	if !c.creds.configured() {
		res.Error = ErrNotConfigured.Error()
		res.Source = SourceConfigError
		res.Data = DefaultStatuses()
		return res
	}
	res.APIURL = c.StatusesURL(origin)

	data, status, err := c.statuses(ctx, origin)
	if err != nil {
		c.logger.Warn("visa statuses lookup failed", zap.String("url", res.APIURL), zap.Error(err))

		res.Error = err.Error()
		res.Data = DefaultStatuses()
		res.Source = SourceNetworkError
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Op == opStatuses {
			res.Source = SourceAPIError
			res.Status = apiErr.Status
		}
		return res
	}

	res.Success = true
	res.Data = data
	res.Source = SourceAPI
	res.Status = status
	return res
}
