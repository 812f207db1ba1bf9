// Package contentapi is a blob store backed by a remote repository contents API:
// files are read and written one path at a time with base64 payloads, the file sha
// is the version and every write carries a commit message.
package contentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/codec"
)

type Config struct {
	BaseURL string
	Token   string
	Branch  string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	token   string
	branch  string
	http    *http.Client
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("content api base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse content api url: %w", err)
	}
	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		branch:  branch,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type fileResponse struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content,omitempty"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type writeResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

func (c *Client) Get(ctx context.Context, path string) (*blobstore.Object, error) {
	if err := blobstore.ValidatePath(path); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	status, err := c.do(ctx, http.MethodGet, c.contentsURL(path)+"?ref="+url.QueryEscape(c.branch), nil, &raw)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusError("get", path, status)
	}
	// A directory answers with the array of its entries.
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, nil
	}
	var file fileResponse
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("get %s: decode response: %w", path, err)
	}
	if file.Type != "" && file.Type != "file" {
		return nil, nil
	}
	if file.Encoding != "" && file.Encoding != "base64" {
		return nil, fmt.Errorf("get %s: unsupported encoding %q", path, file.Encoding)
	}
	content, err := codec.Unwrap(file.Content)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return &blobstore.Object{Path: path, Content: content, Version: file.SHA}, nil
}

func (c *Client) Put(ctx context.Context, path string, content []byte, expectedVersion, message string) (string, error) {
	if err := blobstore.ValidatePath(path); err != nil {
		return "", err
	}
	body := writeRequest{Message: message, Content: codec.Wrap(content), SHA: expectedVersion, Branch: c.branch}
	var resp writeResponse
	status, err := c.do(ctx, http.MethodPut, c.contentsURL(path), body, &resp)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK, http.StatusCreated:
		if resp.Content.SHA == "" {
			return blobstore.ContentVersion(content), nil
		}
		return resp.Content.SHA, nil
	case http.StatusConflict:
		return "", fmt.Errorf("put %s: %w", path, blobstore.ErrVersionConflict)
	case http.StatusUnprocessableEntity:
		// A create without sha over an existing file and a sha that names no
		// current file both come back as 422.
		if expectedVersion == "" {
			return "", fmt.Errorf("put %s: %w", path, blobstore.ErrAlreadyExists)
		}
		return "", fmt.Errorf("put %s: %w", path, blobstore.ErrVersionConflict)
	case http.StatusNotFound:
		if expectedVersion != "" {
			return "", fmt.Errorf("put %s: %w", path, blobstore.ErrVersionConflict)
		}
	}
	return "", statusError("put", path, status)
}

func (c *Client) Delete(ctx context.Context, path, expectedVersion, message string) error {
	if err := blobstore.ValidatePath(path); err != nil {
		return err
	}
	if expectedVersion == "" {
		return fmt.Errorf("delete %s: %w", path, blobstore.ErrVersionConflict)
	}
	body := writeRequest{Message: message, SHA: expectedVersion, Branch: c.branch}
	status, err := c.do(ctx, http.MethodDelete, c.contentsURL(path), body, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("delete %s: %w", path, blobstore.ErrNotFound)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("delete %s: %w", path, blobstore.ErrVersionConflict)
	}
	return statusError("delete", path, status)
}

// List reads the recursive tree of the branch and keeps the files under prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]blobstore.Entry, error) {
	var tree treeResponse
	endpoint := c.baseURL + "/git/trees/" + url.PathEscape(c.branch) + "?recursive=1"
	status, err := c.do(ctx, http.MethodGet, endpoint, nil, &tree)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusConflict:
		// An empty repository has no tree yet.
		return []blobstore.Entry{}, nil
	default:
		return nil, statusError("list", prefix, status)
	}
	if tree.Truncated {
		return nil, fmt.Errorf("list %s: tree listing truncated by the server", prefix)
	}
	entries := make([]blobstore.Entry, 0)
	for _, item := range tree.Tree {
		if item.Type == "blob" && strings.HasPrefix(item.Path, prefix) {
			entries = append(entries, blobstore.Entry{Path: item.Path, Version: item.SHA})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (c *Client) Ping(ctx context.Context) error {
	status, err := c.do(ctx, http.MethodGet, c.baseURL, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError("ping", "", status)
	}
	return nil
}

func (c *Client) contentsURL(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return c.baseURL + "/contents/" + strings.Join(segments, "/")
}

// do sends one request and decodes a 2xx JSON body into out. Network failures and
// 5xx answers are transport errors: the caller cannot tell whether a write landed.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, fmt.Errorf("%s %s: %w: %v", method, endpoint, blobstore.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, fmt.Errorf("%s %s: %w: status %d", method, endpoint, blobstore.ErrTransport, resp.StatusCode)
	}
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func statusError(op, path string, status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w: content api answered %d", op, path, blobstore.ErrAccessDenied, status)
	}
	return fmt.Errorf("%s %s: content api answered %d %s", op, path, status, http.StatusText(status))
}
