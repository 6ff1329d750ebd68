// Package syncclient is the terminal's HTTP client for the central server:
// activation, reachability probe, push and pull. Transport failures map to
// ErrUnreachable so the sync engine can treat "offline" as a state rather
// than an error to report.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"dukkanpos/internal/domain"
)

const (
	// probeTimeout is deliberately short: an offline check must fail fast
	// so the cashier path never waits on a dead network.
	probeTimeout = 3 * time.Second

	// requestTimeout bounds push and pull, which may carry a large backlog
	// after a long offline stretch.
	requestTimeout = 30 * time.Second
)

var (
	ErrUnreachable  = errors.New("central server unreachable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("request rejected")
)

type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("central api error: %s", e.Status)
	}
	return fmt.Sprintf("central api error: %s: %s", e.Status, e.Body)
}

type Client struct {
	http *resty.Client
}

func New(endpoint string) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(endpoint, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(requestTimeout)

	return &Client{http: httpClient}
}

// SetAuthToken attaches the bearer token issued at login to every request.
func (c *Client) SetAuthToken(token string) {
	c.http.SetAuthScheme("Bearer")
	c.http.SetAuthToken(token)
}

// Probe checks reachability with a short deadline. Any HTTP response,
// even an error status, proves the server is there.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := c.http.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// Activate exchanges a one-time activation code for the device identity.
// Reusing the same code from the same device returns the same identity.
func (c *Client) Activate(ctx context.Context, req domain.ActivateRequest) (*domain.ActivateResponse, error) {
	var out domain.ActivateResponse
	if err := c.doPost(ctx, "/api/v1/devices/activate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login authenticates a user against the central directory and returns a
// bearer token for the sync endpoints.
func (c *Client) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResponse, error) {
	var out domain.LoginResponse
	if err := c.doPost(ctx, "/api/v1/auth/login", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Push uploads pending operations and returns per-operation statuses. The
// center is idempotent on operation ids, so resending after a lost response
// is safe.
func (c *Client) Push(ctx context.Context, req domain.PushRequest) (*domain.PushResponse, error) {
	var out domain.PushResponse
	if err := c.doPost(ctx, "/api/v1/sync/push", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pull fetches reference data changed since the checkpoint. The response's
// sync timestamp becomes the next checkpoint.
func (c *Client) Pull(ctx context.Context, req domain.PullRequest) (*domain.PullResponse, error) {
	var out domain.PullResponse
	if err := c.doPost(ctx, "/api/v1/sync/pull", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doPost(ctx context.Context, path string, body, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if resp.IsError() {
		return apiErrorFromResponse(resp)
	}
	return nil
}

func apiErrorFromResponse(resp *resty.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       strings.TrimSpace(resp.String()),
	}

	switch resp.StatusCode() {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Error())
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrBadRequest, apiErr.Error())
	default:
		return apiErr
	}
}
