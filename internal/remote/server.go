/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ophthograph/internal/domain"
	applog "ophthograph/internal/log"
)

// Server API paths.
const (
	PathToken  = "/api/auth/token"
	PathList   = "/api/library"
	PathUpload = "/api/library/upload"
	PathDelete = "/api/library/delete"
)

// ServerSource talks to a live library backend.
type ServerSource struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
	log     *slog.Logger
}

// NewServerSource creates a client for baseURL. A trailing slash is normalized away.
func NewServerSource(baseURL, token string, timeout time.Duration, insecure bool) *ServerSource {
	return &ServerSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  newHTTPClient(timeout, insecure),
		log:     applog.WithComponent("remote.server"),
	}
}

func (s *ServerSource) Mode() Mode { return ModeServer }

// FetchAll lists every item the backend holds. The server has no community pool.
func (s *ServerSource) FetchAll(ctx context.Context) (Snapshot, error) {
	body, err := doRequest(ctx, s.client, http.MethodGet, s.BaseURL+PathList, s.Token, nil)
	if err != nil {
		return Snapshot{}, err
	}
	items, err := decodeItems(s.log, "server", body)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Items: items}, nil
}

type successResponse struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Error   string `json:"error,omitempty"`
}

func (s *ServerSource) post(ctx context.Context, path string, body any) (successResponse, error) {
	var out successResponse
	raw, err := doRequest(ctx, s.client, http.MethodPost, s.BaseURL+path, s.Token, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", path, err)
	}
	if !out.Success {
		if out.Error != "" {
			return out, fmt.Errorf("%w: %s", ErrRejected, out.Error)
		}
		return out, ErrRejected
	}
	return out, nil
}

// Upload sends the full payload of one item.
func (s *ServerSource) Upload(ctx context.Context, it domain.LibraryItem) error {
	_, err := s.post(ctx, PathUpload, it)
	return err
}

// PushLocalOnly uploads items one request at a time so a failure only affects its own
// item. Nothing is retried.
func (s *ServerSource) PushLocalOnly(ctx context.Context, items []domain.LibraryItem) []Outcome {
	out := make([]Outcome, 0, len(items))
	for _, it := range items {
		err := ctx.Err()
		if err == nil {
			err = s.Upload(ctx, it)
		}
		if err != nil {
			s.log.Warn("upload failed", slog.String("id", it.ID), slog.Any("err", err))
		}
		out = append(out, Outcome{ID: it.ID, Title: it.Title, Err: err})
	}
	return out
}

// Delete removes ids on the backend and returns how many it deleted.
func (s *ServerSource) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.post(ctx, PathDelete, map[string]any{"ids": ids})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// RequestToken asks the backend for a bearer token issued to subject.
func (s *ServerSource) RequestToken(ctx context.Context, subject string) (string, error) {
	raw, err := doRequest(ctx, s.client, http.MethodPost, s.BaseURL+PathToken, "", map[string]any{"subject": subject})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.Token == "" {
		return "", ErrRejected
	}
	return out.Token, nil
}
