/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package remote fetches library items from, and pushes them to, the places a library
// syncs with: a live backend, or a static feed plus the community pool.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ophthograph/internal/domain"
)

// Mode names where remote data comes from.
type Mode string

const (
	ModeStatic Mode = "static"
	ModeServer Mode = "server"
)

// ErrRejected is returned when the remote answered but reported success=false.
var ErrRejected = errors.New("remote rejected request")

// Snapshot is one fetch of the remote collection.
type Snapshot struct {
	Items    []domain.LibraryItem
	Approved []domain.Submission
}

// Outcome records what happened to one pushed item.
type Outcome struct {
	ID    string
	Title string
	Err   error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Source is a remote collection the orchestrator can pull from and fill gaps in.
type Source interface {
	FetchAll(ctx context.Context) (Snapshot, error)
	PushLocalOnly(ctx context.Context, items []domain.LibraryItem) []Outcome
	Mode() Mode
}

// newHTTPClient returns a client with the given timeout; insecure skips TLS verification
// for self-signed development backends.
func newHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &http.Client{Timeout: timeout}
	if insecure {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for dev backends
		c.Transport = tr
	}
	return c
}

// doRequest sends body (JSON-encoded when non-nil) and returns the response body of a
// 2xx answer.
func doRequest(ctx context.Context, c *http.Client, method, url, token string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote %s %s: %s", method, req.URL.Path, resp.Status)
	}
	return data, nil
}

// decodeItems decodes a remote item array leniently. Schema problems are only logged;
// the items are still returned so the merge can sanitize them.
func decodeItems(log *slog.Logger, origin string, b []byte) ([]domain.LibraryItem, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(b), &raw); err == nil {
		for i, el := range raw {
			problems, verr := domain.ValidateItem(el)
			if verr != nil || len(problems) == 0 {
				continue
			}
			log.Debug("remote item does not match schema",
				slog.String("origin", origin), slog.Int("index", i),
				slog.String("problems", strings.Join(problems, "; ")))
		}
	}
	items, dropped, err := domain.DecodeItems(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", origin, err)
	}
	if dropped > 0 {
		log.Warn("dropped malformed remote items", slog.String("origin", origin), slog.Int("dropped", dropped))
	}
	return items, nil
}
