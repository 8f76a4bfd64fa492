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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ophthograph/internal/domain"
	applog "ophthograph/internal/log"
)

// StaticSource reads a pre-built feed and, optionally, the community pool. It is read-only.
type StaticSource struct {
	FeedURL   string
	Community *CommunityClient
	client    *http.Client
	log       *slog.Logger
}

// NewStaticSource creates a static source. community may be nil.
func NewStaticSource(feedURL string, community *CommunityClient, timeout time.Duration) *StaticSource {
	return &StaticSource{
		FeedURL:   strings.TrimSpace(feedURL),
		Community: community,
		client:    newHTTPClient(timeout, false),
		log:       applog.WithComponent("remote.static"),
	}
}

func (s *StaticSource) Mode() Mode { return ModeStatic }

// FetchAll downloads the feed and the community pool concurrently. A feed failure fails
// the fetch; a community failure only drops the approved items.
func (s *StaticSource) FetchAll(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	if s.FeedURL != "" {
		g.Go(func() error {
			body, err := doRequest(gctx, s.client, http.MethodGet, s.FeedURL, "", nil)
			if err != nil {
				return err
			}
			items, err := decodeItems(s.log, "static feed", body)
			if err != nil {
				return err
			}
			snap.Items = items
			return nil
		})
	}
	if s.Community != nil && s.Community.URL != "" {
		g.Go(func() error {
			doc, err := s.Community.GetAll(gctx)
			if err != nil {
				s.log.Warn("community pool unavailable", slog.Any("err", err))
				return nil
			}
			snap.Approved = doc.Approved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// PushLocalOnly does nothing: a static feed cannot be written to.
func (s *StaticSource) PushLocalOnly(context.Context, []domain.LibraryItem) []Outcome { return nil }
