// Package catalog talks to the device catalog service and validates
// codenames against it.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/patchbot/internal/domain"
)

// DefaultURL is where the catalog service listens when run alongside the bot.
const DefaultURL = "http://localhost:9837"

const requestTimeout = 15 * time.Second

// ErrUnknownCodename is returned when the catalog has no device for a codename.
var ErrUnknownCodename = errors.New("unknown codename")

// Codenames is the /codenames payload.
type Codenames struct {
	Firmware []string `json:"firmware_codenames"`
	Miui     []string `json:"miui_codenames"`
	Vendor   []string `json:"vendor_codenames"`
}

// Client is a thin HTTP client for the catalog service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a catalog client. A nil httpClient uses a client with a
// short timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Codenames fetches every codename list the catalog knows.
func (c *Client) Codenames(ctx context.Context) (Codenames, error) {
	var out Codenames
	if err := c.getJSON(ctx, "/codenames", &out); err != nil {
		return Codenames{}, err
	}
	return out, nil
}

// Devices fetches the name/codename directory.
func (c *Client) Devices(ctx context.Context) ([]domain.Device, error) {
	var out []domain.Device
	if err := c.getJSON(ctx, "/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Software fetches the published builds for a codename.
func (c *Client) Software(ctx context.Context, codename string) (domain.Software, error) {
	var out domain.Software
	if err := c.getJSON(ctx, "/devices/"+url.PathEscape(codename)+"/software", &out); err != nil {
		return domain.Software{}, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrUnknownCodename
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("catalog %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return nil
}
