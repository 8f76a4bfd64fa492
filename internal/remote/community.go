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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ophthograph/internal/domain"
	applog "ophthograph/internal/log"
)

// ErrAttributionRequired is returned when a community submission has no user name.
var ErrAttributionRequired = errors.New("community submissions need a user name")

// CommunityDoc is the whole community pool document.
type CommunityDoc struct {
	Submissions []domain.Submission `json:"submissions"`
	Approved    []domain.Submission `json:"approved"`
}

// CommunityClient reads and writes the community pool, a single JSON document hosted by a
// third-party store that supports GET and PUT of the whole document.
type CommunityClient struct {
	URL    string
	client *http.Client
	log    *slog.Logger
	now    func() time.Time

	mu sync.Mutex // serializes read-modify-write submits
}

func NewCommunityClient(url string, timeout time.Duration) *CommunityClient {
	return &CommunityClient{
		URL:    strings.TrimSpace(url),
		client: newHTTPClient(timeout, false),
		log:    applog.WithComponent("remote.community"),
		now:    time.Now,
	}
}

// GetAll fetches the pool document.
func (c *CommunityClient) GetAll(ctx context.Context) (CommunityDoc, error) {
	var doc CommunityDoc
	body, err := doRequest(ctx, c.client, http.MethodGet, c.URL, "", nil)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return doc, fmt.Errorf("decode community pool: %w", err)
	}
	return doc, nil
}

// Submit appends it as a pending submission attributed to userName and writes the
// document back.
func (c *CommunityClient) Submit(ctx context.Context, it domain.LibraryItem, userName string) (domain.Submission, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return domain.Submission{}, ErrAttributionRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.GetAll(ctx)
	if err != nil {
		return domain.Submission{}, err
	}
	sub := domain.Submission{
		ID:          uuid.NewString(),
		Title:       it.Title,
		Summary:     it.Summary,
		Data:        it.Data,
		ChapterID:   domain.NormalizeChapter(it.ChapterID),
		UserName:    userName,
		Status:      domain.SubmissionPending,
		SubmittedAt: domain.FormatDate(c.now()),
	}
	doc.Submissions = append(doc.Submissions, sub)
	if _, err := doRequest(ctx, c.client, http.MethodPut, c.URL, "", doc); err != nil {
		return domain.Submission{}, fmt.Errorf("write community pool: %w", err)
	}
	c.log.Info("community submission stored", slog.String("id", sub.ID), slog.String("user", userName))
	return sub, nil
}
