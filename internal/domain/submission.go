/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import "encoding/json"

// Submission statuses in the community pool.
const (
	SubmissionPending  = "pending"
	SubmissionApproved = "approved"
)

// Submission is a record in the community pool. Approved submissions are merged into
// local libraries like remote items.
type Submission struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Data        json.RawMessage `json:"data,omitempty"`
	ChapterID   string          `json:"chapterId"`
	UserName    string          `json:"userName"`
	Status      string          `json:"status,omitempty"`
	SubmittedAt string          `json:"submittedAt,omitempty"`
	ApprovedAt  string          `json:"approvedAt,omitempty"`
}

// ToItem converts the submission into library shape. The date is the approval time when
// known, else the submission time.
func (s Submission) ToItem() LibraryItem {
	date := s.ApprovedAt
	if date == "" {
		date = s.SubmittedAt
	}
	it := LibraryItem{
		ID:          s.ID,
		Title:       s.Title,
		Summary:     s.Summary,
		Date:        date,
		ChapterID:   s.ChapterID,
		Source:      SourceCommunity,
		SubmittedBy: s.UserName,
	}
	if len(s.Data) > 0 {
		it.Data = append(json.RawMessage(nil), s.Data...)
	}
	return it
}
