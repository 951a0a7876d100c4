// Package dispatch triggers the remote patch workflow on GitHub Actions.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/patchbot/internal/domain"
	"github.com/ashureev/patchbot/internal/retry"
)

const (
	// DefaultAPIURL is the public GitHub REST root.
	DefaultAPIURL = "https://api.github.com"
	// DefaultRef is the branch the workflow runs on.
	DefaultRef = "master"

	serviceName = "github"
	userAgent   = "patchbot/1.0"
	maxBodyLog  = 512
)

// DefaultPolicy is the production dispatch policy: 3 attempts, 1s doubling
// backoff capped at 30s, per-attempt timeout of 60s growing by 20s.
func DefaultPolicy() *retry.Policy {
	p := retry.NewPolicy(retry.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}, retry.Transient)
	p.AttemptTimeout = retry.LinearTimeout(60*time.Second, 20*time.Second)
	return p
}

// Options configures a Client.
type Options struct {
	APIURL     string
	Token      string
	Owner      string
	Repo       string
	Ref        string
	Workflows  WorkflowTable
	HTTPClient *http.Client
	Policy     *retry.Policy
	Logger     *slog.Logger
}

// Client fires workflow_dispatch events.
type Client struct {
	apiURL    string
	token     string
	owner     string
	repo      string
	ref       string
	workflows WorkflowTable
	http      *http.Client
	policy    *retry.Policy
	logger    *slog.Logger
}

// New creates a dispatch client.
func New(opts Options) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.Ref == "" {
		opts.Ref = DefaultRef
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
		apiURL:    strings.TrimRight(opts.APIURL, "/"),
		token:     opts.Token,
		owner:     opts.Owner,
		repo:      opts.Repo,
		ref:       opts.Ref,
		workflows: opts.Workflows,
		http:      opts.HTTPClient,
		policy:    opts.Policy,
		logger:    opts.Logger.With("component", "dispatch"),
	}
}

type dispatchBody struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

// Workflow returns the workflow file the request would be sent to.
func (c *Client) Workflow(req domain.DispatchRequest) string {
	return c.workflows.Resolve(req.Platform().APILevel)
}

// Dispatch sends req once, retrying transient failures. Errors are always
// *domain.RemoteError.
func (c *Client) Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchResult, error) {
	workflow := c.Workflow(req)
	if workflow == "" {
		return domain.DispatchResult{}, &domain.RemoteError{
			Service: serviceName,
			Kind:    domain.RemoteProtocol,
			Message: "no workflow configured for api level " + req.Platform().APILevel,
		}
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		c.apiURL, url.PathEscape(c.owner), url.PathEscape(c.repo), url.PathEscape(workflow))
	payload, err := json.Marshal(dispatchBody{Ref: c.ref, Inputs: req.Inputs()})
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("encode dispatch body: %w", err)
	}

	c.logger.Info("Dispatching workflow",
		"workflow", workflow,
		"user_id", req.UserID(),
		"device", req.DeviceName(),
		"version", req.Version(),
		"api_level", req.Platform().APILevel,
	)

	var status int
	attempts, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var sendErr error
		status, sendErr = c.send(ctx, endpoint, payload)
		if sendErr != nil {
			c.logger.Warn("Dispatch attempt failed", "workflow", workflow, "attempt", attempt, "error", sendErr)
		}
		return sendErr
	})
	if err != nil {
		return domain.DispatchResult{}, retry.RemoteError(serviceName, attempts, err)
	}

	c.logger.Info("Workflow dispatched", "workflow", workflow, "status", status, "attempts", attempts)
	return domain.DispatchResult{Workflow: workflow, StatusCode: status, Attempts: attempts}, nil
}

func (c *Client) send(ctx context.Context, endpoint string, payload []byte) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Authorization", "token "+c.token)
	httpReq.Header.Set("Accept", "application/vnd.github.v3+json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// GitHub answers 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
		return resp.StatusCode, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
