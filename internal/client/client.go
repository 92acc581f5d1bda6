// Package client talks to the api-service over HTTP and follows batch jobs
// until they finish.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/tutor-be/internal/api/dto"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx reply from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (http %d): %s", e.StatusCode, e.Message)
}

// Client calls the job endpoints with a bearer token
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient builds a client; httpClient may be nil
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// SubmitJob creates a batch job and returns its id. Resubmitting with the
// same non-empty idempotencyKey returns the job created the first time.
func (c *Client) SubmitJob(ctx context.Context, req dto.CreateJobRequest, idempotencyKey string) (*dto.CreateJobResponse, error) {
	var header http.Header
	if idempotencyKey != "" {
		header = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}

	var resp dto.CreateJobResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", header, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	return &resp, nil
}

// GetJob reads the current state of a job
func (c *Client) GetJob(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	var job dto.JobDTO
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, nil, &job); err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// CancelJob asks the API to stop a job
func (c *Client) CancelJob(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	var job dto.JobDTO
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, &job); err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	return &job, nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody dto.ErrorResponse
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			msg = errBody.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
