/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend is the reference library server that ServerSource syncs against.
package backend

import (
	"context"
	"sort"
	"sync"

	"ophthograph/internal/domain"
)

// ItemStore persists the server-side library.
type ItemStore interface {
	List(ctx context.Context) ([]domain.LibraryItem, error)
	Upsert(ctx context.Context, items []domain.LibraryItem, uploadedBy string) error
	Delete(ctx context.Context, ids []string) (int, error)
	Ping(ctx context.Context) error
}

// MemoryStore is an ItemStore held in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]domain.LibraryItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]domain.LibraryItem)}
}

func (m *MemoryStore) List(context.Context) ([]domain.LibraryItem, error) {
	m.mu.RLock()
	out := make([]domain.LibraryItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	m.mu.RUnlock()
	sortForListing(out)
	return out, nil
}

func (m *MemoryStore) Upsert(_ context.Context, items []domain.LibraryItem, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		it.ServerSynced = false
		m.items[it.ID] = it
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.items[id]; ok {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// sortForListing orders newest first, ids breaking ties.
func sortForListing(items []domain.LibraryItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date > items[j].Date
		}
		return items[i].ID < items[j].ID
	})
}
