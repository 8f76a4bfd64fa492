/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package library

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ophthograph/internal/classify"
	"ophthograph/internal/domain"
	applog "ophthograph/internal/log"
)

// NewItem carries the user supplied fields of a freshly saved infographic.
type NewItem struct {
	Title     string
	Summary   string
	ChapterID string
	Data      []byte
}

// Service implements the local library operations on top of a Repository. Every
// mutating call is a full load, modify, save cycle guarded by one mutex.
type Service struct {
	repo Repository
	mu   sync.Mutex
	log  *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService returns a Service persisting through repo.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		log:   applog.WithComponent("library"),
		now:   time.Now,
		newID: newItemID,
	}
}

func newItemID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Items loads the collection. Invalid chapter ids found on disk are normalized and the
// repaired collection is written back.
func (s *Service) Items(ctx context.Context) ([]domain.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Service) load(ctx context.Context) ([]domain.LibraryItem, error) {
	items, err := s.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	if Sanitize(items) {
		s.log.Info("normalized invalid chapter ids", slog.Int("items", len(items)))
		if err := s.repo.Save(ctx, items); err != nil {
			return nil, fmt.Errorf("save sanitized library: %w", err)
		}
	}
	return items, nil
}

func (s *Service) save(ctx context.Context, items []domain.LibraryItem) error {
	AssignSequenceIDs(items)
	SortNewestFirst(items)
	if err := s.repo.Save(ctx, items); err != nil {
		return fmt.Errorf("save library: %w", err)
	}
	return nil
}

// Add stores a new item. Title and summary fall back to the ones inside Data; an empty
// chapter is filled in by the classifier.
func (s *Service) Add(ctx context.Context, in NewItem) (domain.LibraryItem, error) {
	it := domain.LibraryItem{
		ID:        s.newID(),
		Title:     strings.TrimSpace(in.Title),
		Summary:   in.Summary,
		ChapterID: strings.TrimSpace(in.ChapterID),
	}
	if len(in.Data) > 0 {
		it.Data = append([]byte(nil), in.Data...)
		it.MirrorFromData()
	}
	if it.Title == "" {
		return domain.LibraryItem{}, ErrEmptyTitle
	}
	switch {
	case it.ChapterID == "":
		it.ChapterID = classify.Chapter(it.Title)
	case !domain.ValidChapter(it.ChapterID):
		return domain.LibraryItem{}, fmt.Errorf("%w: %q", ErrInvalidChapter, it.ChapterID)
	}
	it.Date = domain.FormatDate(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return domain.LibraryItem{}, err
	}
	key := NormalizeTitle(it.Title)
	for _, existing := range items {
		if existing.ID == it.ID {
			return domain.LibraryItem{}, fmt.Errorf("%w: %s", ErrDuplicateID, it.ID)
		}
		if key != "" && NormalizeTitle(existing.Title) == key {
			s.log.Warn("title already in library", slog.String("title", it.Title), slog.String("existing", existing.ID))
		}
	}
	items = append(items, it)
	if err := s.save(ctx, items); err != nil {
		return domain.LibraryItem{}, err
	}
	added, _ := find(items, it.ID)
	s.log.Info("item added", slog.String("id", it.ID), slog.String("chapter", it.ChapterID))
	return items[added], nil
}

// Get resolves ref as an item id or, failing that, a sequence number.
func (s *Service) Get(ctx context.Context, ref string) (domain.LibraryItem, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return domain.LibraryItem{}, err
	}
	idx, ok := find(items, ref)
	if !ok {
		return domain.LibraryItem{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return items[idx], nil
}

// Rename changes the title of one item.
func (s *Service) Rename(ctx context.Context, ref, title string) (domain.LibraryItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.LibraryItem{}, ErrEmptyTitle
	}
	return s.update(ctx, ref, func(it *domain.LibraryItem) { it.Title = title })
}

// SetChapter moves one item into another chapter. Unknown chapter ids are rejected.
func (s *Service) SetChapter(ctx context.Context, ref, chapterID string) (domain.LibraryItem, error) {
	if !domain.ValidChapter(chapterID) {
		return domain.LibraryItem{}, fmt.Errorf("%w: %q", ErrInvalidChapter, chapterID)
	}
	return s.update(ctx, ref, func(it *domain.LibraryItem) { it.ChapterID = chapterID })
}

func (s *Service) update(ctx context.Context, ref string, fn func(*domain.LibraryItem)) (domain.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return domain.LibraryItem{}, err
	}
	idx, ok := find(items, ref)
	if !ok {
		return domain.LibraryItem{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	fn(&items[idx])
	it := items[idx]
	if err := s.save(ctx, items); err != nil {
		return domain.LibraryItem{}, err
	}
	return it, nil
}

// Delete removes the referenced items and returns them. Unknown references are skipped;
// ErrNotFound is returned only when nothing matched.
func (s *Service) Delete(ctx context.Context, refs ...string) ([]domain.LibraryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	drop := make(map[int]bool, len(refs))
	for _, ref := range refs {
		if idx, ok := find(items, ref); ok {
			drop[idx] = true
		}
	}
	if len(drop) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(refs, ", "))
	}
	var removed []domain.LibraryItem
	kept := make([]domain.LibraryItem, 0, len(items)-len(drop))
	for i, it := range items {
		if drop[i] {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	if err := s.save(ctx, kept); err != nil {
		return nil, err
	}
	s.log.Info("items deleted", slog.Int("count", len(removed)))
	return removed, nil
}

// List returns the items of one chapter, newest first. An empty chapter lists everything.
func (s *Service) List(ctx context.Context, chapterID string) ([]domain.LibraryItem, error) {
	if chapterID != "" && !domain.ValidChapter(chapterID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChapter, chapterID)
	}
	items, err := s.Items(ctx)
	if err != nil {
		return nil, err
	}
	SortNewestFirst(items)
	if chapterID == "" {
		return items, nil
	}
	out := items[:0:0]
	for _, it := range items {
		if it.ChapterID == chapterID {
			out = append(out, it)
		}
	}
	return out, nil
}

// Recent returns up to n of the newest items.
func (s *Service) Recent(ctx context.Context, n int) ([]domain.LibraryItem, error) {
	items, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	if n >= 0 && n < len(items) {
		items = items[:n]
	}
	return items, nil
}

// Import merges items from an export file as if they came from a remote, so entries
// whose title is already present are skipped rather than duplicated.
func (s *Service) Import(ctx context.Context, incoming []domain.LibraryItem) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.load(ctx)
	if err != nil {
		return MergeResult{}, err
	}
	res := Merge(MergeInput{Local: items, Remote: incoming, Now: s.now()})
	if res.Changed {
		if err := s.repo.Save(ctx, res.Merged); err != nil {
			return MergeResult{}, fmt.Errorf("save imported library: %w", err)
		}
	}
	s.log.Info("import finished",
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("skipped", res.SkippedDuplicates))
	return res, nil
}

// find locates ref by id first and then by sequence number.
func find(items []domain.LibraryItem, ref string) (int, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, false
	}
	for i, it := range items {
		if it.ID == ref {
			return i, true
		}
	}
	n, err := strconv.Atoi(strings.TrimPrefix(ref, "#"))
	if err != nil {
		return 0, false
	}
	for i, it := range items {
		if it.SeqID == n {
			return i, true
		}
	}
	return 0, false
}
