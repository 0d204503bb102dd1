// Package client provides a typed Go client for the buildmarket API.
package client

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
	"time"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status int
	Code   string
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("buildmarket api %d %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("buildmarket api %d: %s", e.Status, e.Detail)
}

// IsKind reports whether err is an APIError carrying code.
func IsKind(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Client)

// WithToken sets the caller bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.Token = token }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

type header struct{ key, value string }

func (c *Client) do(ctx context.Context, method, path string, body, out any, headers ...header) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	for _, h := range headers {
		req.Header.Set(h.key, h.value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var p problem
		if err := json.NewDecoder(resp.Body).Decode(&p); err == nil && p.Title != "" {
			return &APIError{Status: resp.StatusCode, Code: p.Code, Title: p.Title, Detail: p.Detail}
		}
		return &APIError{Status: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func jobCap(token string) header   { return header{"X-Job-Capability", token} }
func adminCap(token string) header { return header{"X-Admin-Capability", token} }

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return &out, err
}

// CreateJob posts a job and returns it with its capability token.
func (c *Client) CreateJob(ctx context.Context, req JobRequest) (*Job, string, error) {
	var out struct {
		Job        *Job   `json:"job"`
		Capability string `json:"capability"`
	}
	body := createJobBody{JobRequest: req, DurationMs: req.Duration.Milliseconds()}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", body, &out); err != nil {
		return nil, "", err
	}
	return out.Job, out.Capability, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var out Job
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &out)
	return &out, err
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string) ([]*Job, error) {
	path := "/v1/jobs"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Jobs []*Job `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Jobs, err
}

func (c *Client) CreateProfile(ctx context.Context, jobID, description string) (*Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodPost, "/v1/profiles", map[string]string{"job_id": jobID, "description": description}, &out)
	return &out, err
}

func (c *Client) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodGet, "/v1/profiles/"+url.PathEscape(id), nil, &out)
	return &out, err
}

func (c *Client) AddSkill(ctx context.Context, profileID, skill string) (*Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodPost, "/v1/profiles/"+url.PathEscape(profileID)+"/skills", map[string]string{"skill": skill}, &out)
	return &out, err
}

func (c *Client) Bid(ctx context.Context, jobID, profileID string) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/bids", map[string]string{"profile_id": profileID}, nil)
}

func (c *Client) SelectWorker(ctx context.Context, capToken, jobID, worker string, funded int64) (*Profile, error) {
	var out struct {
		Worker *Profile `json:"worker"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/select",
		map[string]any{"worker": worker, "funded": funded}, &out, jobCap(capToken))
	return out.Worker, err
}

func (c *Client) SubmitWork(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/submit", nil, nil)
}

func (c *Client) ConfirmWork(ctx context.Context, capToken, jobID string) (*Payout, error) {
	var out Payout
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/confirm", nil, &out, jobCap(capToken))
	return &out, err
}

func (c *Client) RateWork(ctx context.Context, capToken, jobID string, rating int) error {
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/rating", map[string]int{"rating": rating}, nil, jobCap(capToken))
}

func (c *Client) FileComplaint(ctx context.Context, jobID, reason string) (*Complaint, error) {
	var out Complaint
	err := c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/complaints", map[string]string{"reason": reason}, &out)
	return &out, err
}

func (c *Client) ListComplaints(ctx context.Context, jobID string) ([]*Complaint, error) {
	var out struct {
		Complaints []*Complaint `json:"complaints"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/complaints", nil, &out)
	return out.Complaints, err
}

func (c *Client) ResolveDispute(ctx context.Context, adminToken, jobID, complaintID string, toWorker bool) (*Payout, error) {
	var out Payout
	path := "/v1/jobs/" + url.PathEscape(jobID) + "/complaints/" + url.PathEscape(complaintID) + "/resolve"
	err := c.do(ctx, http.MethodPost, path, map[string]bool{"to_worker": toWorker}, &out, adminCap(adminToken))
	return &out, err
}

func (c *Client) Deposit(ctx context.Context, amount int64) (*Account, error) {
	var out Account
	err := c.do(ctx, http.MethodPost, "/v1/accounts/deposit", map[string]int64{"amount": amount}, &out)
	return &out, err
}

func (c *Client) Account(ctx context.Context) (*Account, error) {
	var out Account
	err := c.do(ctx, http.MethodGet, "/v1/accounts/me", nil, &out)
	return &out, err
}

// Ledger returns entries after seq, optionally restricted to one job.
func (c *Client) Ledger(ctx context.Context, after uint64, jobID string) (head string, entries []LedgerEntry, err error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if jobID != "" {
		q.Set("job_id", jobID)
	}
	var out struct {
		Head    string        `json:"head"`
		Entries []LedgerEntry `json:"entries"`
	}
	err = c.do(ctx, http.MethodGet, "/v1/ledger?"+q.Encode(), nil, &out)
	return out.Head, out.Entries, err
}
