// Package client talks to a relgit server. It is the transport a replica
// uses to reach its peer: it reads branch heads, asks for changesets and
// pushes them.
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

	"relgit/internal/api"
	verr "relgit/internal/errors"
	"relgit/internal/logging"
	"relgit/internal/middleware"
	"relgit/internal/storage"
	"relgit/internal/syncer"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxTries = 4
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTries   uint
	newBackOff func() backoff.BackOff
	logger     *logging.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets how many attempts a request gets and the first delay
// between them. maxTries 1 disables retrying.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = 30 * initial
			return b
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxTries:   defaultMaxTries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func branchPath(org, repo, branch string) string {
	return fmt.Sprintf("/api/repos/%s/%s/branches/%s",
		url.PathEscape(org), url.PathEscape(repo), url.PathEscape(branch))
}

// Head returns the commit the remote branch points at.
func (c *Client) Head(ctx context.Context, org, repo, branch string) (string, error) {
	var out api.HeadResponse
	if err := c.do(ctx, http.MethodGet, branchPath(org, repo, branch)+"/head", nil, &out); err != nil {
		return "", err
	}
	return out.OID, nil
}

// ChangesSince asks the remote branch for its changesets after since.
func (c *Client) ChangesSince(ctx context.Context, org, repo, branch, since string) ([]syncer.Changeset, error) {
	var out []syncer.Changeset
	p := branchPath(org, repo, branch) + "/changes?since=" + url.QueryEscape(since)
	if err := c.do(ctx, http.MethodGet, p, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Changes adapts ChangesSince to the engine's view of a remote branch.
func (c *Client) Changes(org, repo, branch string) syncer.ChangesFunc {
	return func(ctx context.Context, since string) ([]syncer.Changeset, error) {
		return c.ChangesSince(ctx, org, repo, branch, since)
	}
}

// Push replays changes on the remote branch, which must still be at base.
// It returns the remote head afterwards.
func (c *Client) Push(ctx context.Context, org, repo, branch, base string, changes []syncer.Changeset) (string, error) {
	var out api.HeadResponse
	req := api.PushRequest{Base: base, Changes: changes}
	if err := c.do(ctx, http.MethodPost, branchPath(org, repo, branch)+"/changes", req, &out); err != nil {
		return "", err
	}
	return out.OID, nil
}

func (c *Client) InitRepo(ctx context.Context, org, repo, branch string) (*api.BranchView, error) {
	var out api.BranchView
	req := api.InitRequest{Org: org, Repo: repo, Branch: branch}
	if err := c.do(ctx, http.MethodPost, "/api/repos", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Dump fetches every row the remote holds.
func (c *Client) Dump(ctx context.Context) (*storage.Dump, error) {
	var out storage.Dump
	if err := c.do(ctx, http.MethodGet, "/api/dump", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one JSON request, retrying transport failures and 5xx answers.
// A 4xx answer is final and comes back as the server's typed error.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	op := func() (struct{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if id := middleware.RequestIDFrom(ctx); id != "" {
			req.Header.Set(middleware.RequestIDHeader, id)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			herr := decodeError(resp)
			if resp.StatusCode < http.StatusInternalServerError {
				return struct{}{}, backoff.Permanent(herr)
			}
			return struct{}{}, herr
		}
		if out == nil {
			return struct{}{}, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.logger.Debug("retrying request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("after", d),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// decodeError turns an error response into the server's *verr.Error, or a
// generic one when the body is not a typed error.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var e verr.Error
	if err := json.Unmarshal(data, &e); err == nil && e.Type != "" {
		if e.Code == 0 {
			e.Code = resp.StatusCode
		}
		return &e
	}
	return &verr.Error{
		Type:    verr.ErrorTypeInternal,
		Message: fmt.Sprintf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(data))),
		Code:    resp.StatusCode,
	}
}
