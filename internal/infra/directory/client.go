package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainuser "chatly/internal/domain/user"
)

// Client resolves user profiles from the external user-directory service.
// The directory is treated as unreliable: callers fall back to a placeholder
// profile on any error, so failures here must stay cheap and bounded.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Lookup fetches the profile for a user id.
func (c *Client) Lookup(ctx context.Context, id string) (domainuser.Profile, error) {
	if id == "" {
		return domainuser.Profile{}, fmt.Errorf("directory: user id is required")
	}
	endpoint := fmt.Sprintf("%s/api/v1/user/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domainuser.Profile{}, fmt.Errorf("directory: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domainuser.Profile{}, fmt.Errorf("directory: lookup %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domainuser.Profile{}, fmt.Errorf("directory: lookup %s: unexpected status %d", id, resp.StatusCode)
	}
	var profile domainuser.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return domainuser.Profile{}, fmt.Errorf("directory: decode profile: %w", err)
	}
	if profile.ID == "" {
		profile.ID = id
	}
	return profile, nil
}
