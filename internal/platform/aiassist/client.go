// Package aiassist talks to the external drafting service that proposes a
// specialist response for a consult and receives feedback when a proposed
// draft was used.
package aiassist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured is returned when no service URL was provided.
var ErrNotConfigured = errors.New("drafting service is not configured")

// ServiceError is a non-2xx answer from the drafting service.
type ServiceError struct {
	StatusCode int
	Detail     string
}

func (e *ServiceError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("drafting service returned status %d", e.StatusCode)
}

type consultRequest struct {
	EConsultID string `json:"e_consult_id"`
}

type processResponse struct {
	Message string `json:"message"`
	Result  *struct {
		DraftResponse string `json:"draft_response"`
	} `json:"result,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Client calls POST /process and POST /feedback on the drafting service,
// forwarding the caller's bearer token.
type Client struct {
	http *resty.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		return &Client{}
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: rc}
}

// Configured reports whether a service URL was given.
func (c *Client) Configured() bool {
	return c != nil && c.http != nil
}

// Process asks the service to draft a response for the consult. A 2xx
// without a draft is treated as an error.
func (c *Client) Process(ctx context.Context, token, consultID string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var out processResponse
	var errBody errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(consultRequest{EConsultID: consultID}).
		SetResult(&out).
		SetError(&errBody).
		Post("/process")
	if err != nil {
		return "", fmt.Errorf("calling drafting service: %w", err)
	}
	if resp.IsError() {
		return "", &ServiceError{StatusCode: resp.StatusCode(), Detail: errBody.Detail}
	}
	if out.Result == nil || strings.TrimSpace(out.Result.DraftResponse) == "" {
		detail := out.Message
		if detail == "" {
			detail = "drafting service returned no draft"
		}
		return "", &ServiceError{StatusCode: http.StatusBadGateway, Detail: detail}
	}
	return out.Result.DraftResponse, nil
}

// Feedback reports that a drafted response was submitted. The response body
// is ignored.
func (c *Client) Feedback(ctx context.Context, token, consultID string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var errBody errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(consultRequest{EConsultID: consultID}).
		SetError(&errBody).
		Post("/feedback")
	if err != nil {
		return fmt.Errorf("calling drafting service: %w", err)
	}
	if resp.IsError() {
		return &ServiceError{StatusCode: resp.StatusCode(), Detail: errBody.Detail}
	}
	return nil
}
