// Package agent is the agent side of the dispatch protocol: a client for the
// /api methods and a polling loop that runs claimed jobs.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scan-dispatcher/internal/models"
)

// APIError is a non-ok envelope returned by the dispatcher.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dispatcher returned %d: %s", e.StatusCode, e.Message)
}

// Is lets callers match a 409 against models.ErrJobNotAssigned.
func (e *APIError) Is(target error) bool {
	return target == models.ErrJobNotAssigned && e.StatusCode == http.StatusConflict
}

// Client talks to one dispatcher with one agent token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client. A nil hc gets a client with a 30s timeout.
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

func (c *Client) FetchAvailable(ctx context.Context) ([]models.AvailableJob, error) {
	data, err := c.call(ctx, models.MethodFetchAvailable, url.Values{})
	if err != nil {
		return nil, err
	}
	var jobs []models.AvailableJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode available jobs: %w", err)
	}
	return jobs, nil
}

// Assign asks for jobID. A nil detail means another agent got it first.
func (c *Client) Assign(ctx context.Context, jobID int64) (*models.JobDetail, error) {
	data, err := c.call(ctx, models.MethodAssignJob, url.Values{"job_id": {strconv.FormatInt(jobID, 10)}})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var d models.JobDetail
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode job detail: %w", err)
	}
	return &d, nil
}

// SaveResults submits res as a JSON body.
func (c *Client) SaveResults(ctx context.Context, res models.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(models.MethodSaveResults), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.token)
	_, err = c.do(req)
	return err
}

func (c *Client) call(ctx context.Context, method string, form url.Values) (json.RawMessage, error) {
	form.Set("auth_token", c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/api/" + method
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if resp.StatusCode != http.StatusOK || env.Status != models.EnvelopeOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.StatusMsg}
	}
	return env.ReturnData, nil
}

// IsUnauthorized reports whether err is the dispatcher refusing the token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}
