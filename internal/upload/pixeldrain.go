// Package upload sends artifacts to PixelDrain.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/retry"
)

const (
	// DefaultAPIURL is the public PixelDrain API root.
	DefaultAPIURL = "https://pixeldrain.com/api"

	serviceName = "pixeldrain"
	infoTimeout = 30 * time.Second
	maxBodyLog  = 512
)

// ErrNotFound is returned by Info for unknown or deleted files.
var ErrNotFound = errors.New("file not found")

// DefaultPolicy is the production upload policy: 5 attempts, 1s doubling
// backoff capped at 30s, per-attempt timeout of 120s growing by 30s.
func DefaultPolicy() *retry.Policy {
	p := retry.NewPolicy(retry.Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}, retry.Transient)
	p.AttemptTimeout = retry.LinearTimeout(120*time.Second, 30*time.Second)
	return p
}

// Options configures a Client.
type Options struct {
	APIURL     string
	APIKey     string
	HTTPClient *http.Client
	Policy     *retry.Policy
	Logger     *slog.Logger
}

// Client uploads files and looks up file metadata.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
	policy *retry.Policy
	logger *slog.Logger
}

// New creates a PixelDrain client.
func New(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		apiURL: strings.TrimRight(opts.APIURL, "/"),
		apiKey: opts.APIKey,
		http:   opts.HTTPClient,
		policy: opts.Policy,
		logger: opts.Logger.With("component", "upload"),
	}
}

type uploadResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Upload sends the file at path under the given name and returns its
// reference. An empty name falls back to the base name of path. The local
// file is removed once the final attempt has finished, whatever the outcome.
// Errors are always *domain.RemoteError.
func (c *Client) Upload(ctx context.Context, path, name string) (domain.UploadReference, error) {
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to remove artifact", "path", path, "error", err)
		}
	}()

	if name == "" {
		name = filepath.Base(path)
	}
	var id string
	attempts, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		c.logger.Info("Uploading artifact", "file", name, "attempt", attempt)
		var uploadErr error
		id, uploadErr = c.uploadOnce(ctx, path, name)
		if uploadErr != nil {
			c.logger.Warn("Upload attempt failed", "file", name, "attempt", attempt, "error", uploadErr)
		}
		return uploadErr
	})
	if err != nil {
		return domain.UploadReference{}, retry.RemoteError(serviceName, attempts, err)
	}

	c.logger.Info("Artifact uploaded", "file", name, "id", id, "attempts", attempts)
	return domain.NewUploadReference(id), nil
}

func (c *Client) uploadOnce(ctx context.Context, path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	body, contentType := multipartBody(f, name)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/file", body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth("", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw))}
	}

	var out uploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("upload response without id: %s", truncate(string(raw)))
	}
	return out.ID, nil
}

// multipartBody streams r as the "file" form field.
func multipartBody(r io.Reader, name string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

type infoResponse struct {
	Success bool `json:"success"`
	domain.FileInfo
}

// Info fetches the metadata of an uploaded file.
func (c *Client) Info(ctx context.Context, id string) (domain.FileInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, infoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/file/"+id+"/info", nil)
	if err != nil {
		return domain.FileInfo{}, fmt.Errorf("build info request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.FileInfo{}, retry.RemoteError(serviceName, 1, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.FileInfo{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
		return domain.FileInfo{}, retry.RemoteError(serviceName, 1, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(raw)})
	}

	var out infoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.FileInfo{}, fmt.Errorf("decode info response: %w", err)
	}
	if !out.Success {
		return domain.FileInfo{}, ErrNotFound
	}
	if out.ID == "" {
		out.ID = id
	}
	return out.FileInfo, nil
}

func truncate(s string) string {
	if len(s) > maxBodyLog {
		return s[:maxBodyLog]
	}
	return s
}
