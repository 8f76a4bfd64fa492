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
	"sync"
	"time"
)

// Annotation holds the "recently changed" markers shown by the UI. They are cosmetic and
// never influence merging.
type Annotation struct {
	NewlyImported  time.Time
	ChapterUpdated time.Time
}

// Annotations is a concurrency-safe map of Annotation keyed by JoinKey.
type Annotations struct {
	mu sync.Mutex
	m  map[string]Annotation
}

func NewAnnotations() *Annotations { return &Annotations{m: make(map[string]Annotation)} }

func (a *Annotations) MarkImported(key string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	an := a.m[key]
	an.NewlyImported = at
	a.m[key] = an
}

func (a *Annotations) MarkChapterUpdated(key string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	an := a.m[key]
	an.ChapterUpdated = at
	a.m[key] = an
}

// Get returns the annotation for key.
func (a *Annotations) Get(key string) (Annotation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	an, ok := a.m[key]
	return an, ok
}

// Len returns the number of annotated keys.
func (a *Annotations) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.m)
}

// Recent reports whether key was imported or re-chaptered within window before now.
func (a *Annotations) Recent(key string, window time.Duration, now time.Time) bool {
	an, ok := a.Get(key)
	if !ok {
		return false
	}
	cutoff := now.Add(-window)
	return an.NewlyImported.After(cutoff) || an.ChapterUpdated.After(cutoff)
}

// Absorb copies every non-zero marker of other into a, newer values winning.
func (a *Annotations) Absorb(other *Annotations) {
	if other == nil || other == a {
		return
	}
	other.mu.Lock()
	snapshot := make(map[string]Annotation, len(other.m))
	for k, v := range other.m {
		snapshot[k] = v
	}
	other.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range snapshot {
		cur := a.m[k]
		if v.NewlyImported.After(cur.NewlyImported) {
			cur.NewlyImported = v.NewlyImported
		}
		if v.ChapterUpdated.After(cur.ChapterUpdated) {
			cur.ChapterUpdated = v.ChapterUpdated
		}
		a.m[k] = cur
	}
}

// Prune drops annotations whose markers are all older than cutoff.
func (a *Annotations) Prune(cutoff time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range a.m {
		if !v.NewlyImported.After(cutoff) && !v.ChapterUpdated.After(cutoff) {
			delete(a.m, k)
		}
	}
}
