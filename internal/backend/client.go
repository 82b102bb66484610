/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taski/internal/config"
	"taski/internal/domain"
)

// Client is the HTTP client for the backend API. It satisfies the element
// and project persistence interfaces used by the board and project stores.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string, token string) *Client {
	b := strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: b,
		Token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewClientFromConfig applies the configured timeout and TLS settings.
func NewClientFromConfig(cfg config.BackendConfig, token string) *Client {
	c := NewClient(cfg.BaseURL, token)
	c.client.Timeout = cfg.Timeout()
	if cfg.TLSInsecure {
		c.client.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in for self-signed dev servers
		}
	}
	return c
}

// apiError carries the server's status and message.
type apiError struct {
	Status  int
	Method  string
	Path    string
	Message string
	kind    error
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server %s %s: %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("server %s %s: %d", e.Method, e.Path, e.Status)
}

func (e *apiError) Unwrap() error { return e.kind }

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode, Method: method, Path: u.Path}
		var eb struct {
			Error string `json:"error"`
		}
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); json.Unmarshal(b, &eb) == nil {
			ae.Message = eb.Error
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			ae.kind = ErrUnauthorized
		case http.StatusForbidden:
			ae.kind = errors.Join(ErrUnauthorized, ErrForbidden)
		case http.StatusNotFound:
			ae.kind = ErrNotFound
		case http.StatusConflict:
			ae.kind = ErrConflict
		}
		return ae
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, dest any) error {
	var body io.Reader
	ct := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body, ct = bytes.NewReader(b), "application/json"
	}
	return c.do(ctx, method, path, body, ct, dest)
}

// ListProjects returns the projects the token's user owns or collaborates
// on. userID is implied by the token and only used for symmetry with the
// repository.
func (c *Client) ListProjects(ctx context.Context, _ string) ([]domain.Project, error) {
	var list []domain.Project
	if err := c.doJSON(ctx, http.MethodGet, "/api/projects", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, &p)
	return p, err
}

func (c *Client) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	var saved domain.Project
	err := c.doJSON(ctx, http.MethodPost, "/api/projects", p, &saved)
	return saved, err
}

func (c *Client) UpdateProject(ctx context.Context, id string, patch domain.ProjectPatch) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/projects/"+url.PathEscape(id), patch, nil)
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(id), nil, nil)
}

func (c *Client) FetchElements(ctx context.Context, projectID string) ([]domain.Element, error) {
	var els []domain.Element
	if err := c.doJSON(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID)+"/elements", nil, &els); err != nil {
		return nil, err
	}
	return els, nil
}

func (c *Client) CreateElement(ctx context.Context, e domain.Element) (domain.Element, error) {
	var saved domain.Element
	err := c.doJSON(ctx, http.MethodPost, "/api/elements", e, &saved)
	return saved, err
}

func (c *Client) UpdateElement(ctx context.Context, id string, patch domain.Patch) error {
	return c.doJSON(ctx, http.MethodPatch, "/api/elements/"+url.PathEscape(id), patch, nil)
}

func (c *Client) DeleteElement(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/elements/"+url.PathEscape(id), nil, nil)
}

// UploadFile stores an image and returns its reference.
func (c *Client) UploadFile(ctx context.Context, r io.Reader, contentType string) (string, error) {
	var out struct {
		Ref string `json:"ref"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/files", r, contentType, &out); err != nil {
		return "", err
	}
	return out.Ref, nil
}

// DownloadFile writes the stored file for ref to w.
func (c *Client) DownloadFile(ctx context.Context, ref string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/files/"+url.PathEscape(ref), nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", ref, resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) DeleteFile(ctx context.Context, ref string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/files/"+url.PathEscape(ref), nil, nil)
}

// DevToken asks a development server to sign a token for subject.
func (c *Client) DevToken(ctx context.Context, subject string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", map[string]any{"subject": subject}, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}
