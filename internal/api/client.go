// Package api provides the remote service REST client.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/ifirmawan/akvo-mis-sub000/internal/errors"
)

// SyncMode selects the endpoint variant for pushing a datapoint.
type SyncMode int

const (
	// SyncModeCreate posts a plain new submission.
	SyncModeCreate SyncMode = iota
	// SyncModePublish finalizes an existing server draft by id.
	SyncModePublish
	// SyncModeDraft updates an existing server draft by id.
	SyncModeDraft
)

// Config holds remote service connection configuration.
type Config struct {
	BaseURL  string
	Passcode string
	Timeout  time.Duration
}

// Client issues authenticated requests against the remote service.
type Client struct {
	config     *Config
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient creates a new Client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// =====================================================
// Wire types
// =====================================================

// SubmissionPayload is the body posted to /sync for one datapoint.
type SubmissionPayload struct {
	FormID      int64                  `json:"formId"`
	Name        string                 `json:"name"`
	Duration    int                    `json:"duration"`
	SubmittedAt int64                  `json:"submittedAt"`
	Submitter   string                 `json:"submitter"`
	UUID        string                 `json:"uuid,omitempty"`
	Geo         []float64              `json:"geo,omitempty"`
	Answers     map[string]interface{} `json:"answers"`
}

// ListItem is one entry of a paginated datapoint or draft listing.
type ListItem struct {
	URL              string `json:"url"`
	FormID           int64  `json:"form_id"`
	AdministrationID int64  `json:"administration_id"`
	LastUpdated      int64  `json:"last_updated"`
	ID               int64  `json:"id"`
	Name             string `json:"name"`
}

// ListPage is one page of a paginated listing. More pages remain while
// Current < Total.
type ListPage struct {
	Current int        `json:"current"`
	Total   int        `json:"total"`
	Data    []ListItem `json:"data"`
}

// Record is one full remote datapoint as fetched from a list item URL.
type Record struct {
	ID          int64                  `json:"id"`
	UUID        string                 `json:"uuid"`
	FormID      int64                  `json:"form_id"`
	Name        string                 `json:"name"`
	Geo         []float64              `json:"geo"`
	Answers     map[string]interface{} `json:"answers"`
	LastUpdated int64                  `json:"last_updated"`
}

// Form is one remote form definition with its current version.
type Form struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	JSON    string `json:"json"`
}

// =====================================================
// Auth
// =====================================================

// Authenticate fetches a sync token using the configured passcode.
func (c *Client) Authenticate(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{"passcode": c.config.Passcode})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrAuthFailed, "auth request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.ErrAuthFailed,
			fmt.Sprintf("auth failed with status %d", resp.StatusCode))
	}

	var out struct {
		Token string `json:"syncToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return apperrors.Wrap(apperrors.ErrAuthFailed, "decode auth response", err)
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return nil
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// do executes an authenticated request, authenticating first when no
// token is held and re-authenticating once on a 401.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	if c.currentToken() == "" {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.currentToken())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrRemote, "request failed", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			if err := c.Authenticate(ctx); err != nil {
				return nil, err
			}
			continue
		}
		return resp, nil
	}
}

// =====================================================
// Datapoint sync
// =====================================================

// SyncDataPoint pushes one datapoint payload. draftID is the remote
// draft correlation id when mode targets an existing server draft.
func (c *Client) SyncDataPoint(ctx context.Context, payload *SubmissionPayload, draftID string, mode SyncMode) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, func() (*http.Request, error) {
		u, err := url.Parse(c.config.BaseURL + "/sync")
		if err != nil {
			return nil, err
		}
		q := u.Query()
		switch mode {
		case SyncModePublish:
			q.Set("id", draftID)
			q.Set("is_published", "true")
		case SyncModeDraft:
			q.Set("id", draftID)
			q.Set("is_draft", "true")
		}
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.New(apperrors.ErrRemote,
			fmt.Sprintf("sync failed with status %d: %s", resp.StatusCode, msg))
	}
	return nil
}

// =====================================================
// Paginated listings
// =====================================================

func (c *Client) fetchPage(ctx context.Context, path string, page int) (*ListPage, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s%s?page=%d", c.config.BaseURL, path, page), nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ErrRemotePage,
			fmt.Sprintf("list %s page %d failed with status %d", path, page, resp.StatusCode))
	}

	var out ListPage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemotePage, "decode list page", err)
	}
	return &out, nil
}

// ListDataPoints fetches one page of the remote datapoint listing.
func (c *Client) ListDataPoints(ctx context.Context, page int) (*ListPage, error) {
	return c.fetchPage(ctx, "/datapoint-list", page)
}

// ListDrafts fetches one page of the remote draft listing.
func (c *Client) ListDrafts(ctx context.Context, page int) (*ListPage, error) {
	return c.fetchPage(ctx, "/draft-list", page)
}

// FetchRecord fetches one full record from a listing item URL. Relative
// URLs are resolved against the configured base.
func (c *Client) FetchRecord(ctx context.Context, recordURL string) (*Record, error) {
	full := recordURL
	if u, err := url.Parse(recordURL); err == nil && !u.IsAbs() {
		full = c.config.BaseURL + recordURL
	}

	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ErrRemote,
			fmt.Sprintf("fetch record failed with status %d", resp.StatusCode))
	}

	var out Record
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemote, "decode record", err)
	}
	return &out, nil
}

// ListForms fetches all remote form definitions with versions.
func (c *Client) ListForms(ctx context.Context) ([]Form, error) {
	resp, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/forms", nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.ErrRemote,
			fmt.Sprintf("list forms failed with status %d", resp.StatusCode))
	}

	var out []Form
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemote, "decode forms", err)
	}
	return out, nil
}

// =====================================================
// File uploads
// =====================================================

// UploadImage uploads a photo answer file and returns the remote file
// reference.
func (c *Client) UploadImage(ctx context.Context, path string) (string, error) {
	return c.uploadFile(ctx, "/images", path)
}

// UploadAttachment uploads a generic attachment answer file and returns
// the remote file reference.
func (c *Client) UploadAttachment(ctx context.Context, path string) (string, error) {
	return c.uploadFile(ctx, "/attachments", path)
}

func (c *Client) uploadFile(ctx context.Context, endpoint, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrUploadFailed, "open file", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", apperrors.Wrap(apperrors.ErrUploadFailed, "read file", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.config.BaseURL+endpoint, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Content-Length", strconv.Itoa(buf.Len()))
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.New(apperrors.ErrUploadFailed,
			fmt.Sprintf("upload failed with status %d", resp.StatusCode))
	}

	var out struct {
		File string `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperrors.Wrap(apperrors.ErrUploadFailed, "decode upload response", err)
	}
	return out.File, nil
}
