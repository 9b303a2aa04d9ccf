// Package chairclient talks to the cover letter API on behalf of a department chair.
package chairclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when the cover letter does not exist.
	ErrNotFound = errors.New("cover letter not found")
	// ErrUnauthorized is returned when the caller may not act on the cover letter.
	ErrUnauthorized = errors.New("not authorized")
	// ErrInvalidTransition is returned when the cover letter is not awaiting the chair.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTransient is returned for failures that may succeed on retry.
	ErrTransient = errors.New("transient failure")
)

const signPath = "/api/v2/department-chair/cover-letters"

// APIError carries the message returned by the API alongside its classification.
type APIError struct {
	StatusCode int
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("cover letter api returned status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

// CoverLetter mirrors the API representation of a cover letter.
type CoverLetter struct {
	EntryID                 string     `json:"entry_id"`
	StudentID               string     `json:"student_id"`
	StudentName             string     `json:"student_name"`
	StudentLastName         string     `json:"student_last_name"`
	Department              string     `json:"department"`
	GPA                     float64    `json:"gpa"`
	CreditsEarned           int        `json:"credits_earned"`
	GraduationDate          time.Time  `json:"graduation_date"`
	Notes                   string     `json:"notes"`
	Stage                   string     `json:"stage"`
	StageLabel              string     `json:"stage_label"`
	DepartmentChairSigned   bool       `json:"department_chair_signed"`
	DepartmentChairSignedBy *string    `json:"department_chair_signed_by,omitempty"`
	DepartmentChairSignedAt *time.Time `json:"department_chair_signed_at,omitempty"`
}

// SignResult is the outcome of a successful signature.
type SignResult struct {
	Message     string
	CoverLetter CoverLetter
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a thin HTTP client for the department chair endpoints.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// New validates cfg and builds a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{baseURL: base, token: cfg.Token, http: httpClient}, nil
}

// SignCoverLetter asks the API to record the chair's signature on entryID.
func (c *Client) SignCoverLetter(ctx context.Context, entryID string) (SignResult, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return SignResult{}, fmt.Errorf("%w: entry id is required", ErrNotFound)
	}

	var letter CoverLetter
	message, err := c.do(ctx, http.MethodPost, signPath+"/"+url.PathEscape(entryID)+"/sign", &letter)
	if err != nil {
		return SignResult{}, err
	}

	return SignResult{Message: message, CoverLetter: letter}, nil
}

// ListQueue returns the cover letters awaiting the chair's signature.
func (c *Client) ListQueue(ctx context.Context) ([]CoverLetter, error) {
	var letters []CoverLetter
	if _, err := c.do(ctx, http.MethodGet, signPath, &letters); err != nil {
		return nil, err
	}
	return letters, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrTransient, err)
	}

	var payload envelope
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Message:    payload.Message,
			kind:       kindForStatus(resp.StatusCode),
		}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}

	if out != nil && len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, out); err != nil {
			return "", fmt.Errorf("decode response data: %w", err)
		}
	}

	return payload.Message, nil
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusConflict:
		return ErrInvalidTransition
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return ErrTransient
	case status >= http.StatusInternalServerError:
		return ErrTransient
	default:
		return nil
	}
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	return err
}
