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

// This file defines the library record shared by the local store, the merge engine and the
// remote sources. Decoding is deliberately lenient because remote feeds were written by
// older clients that stored ids as numbers and sometimes omitted fields.

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the ISO-8601 form written for new items (millisecond precision, UTC).
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// SourceCommunity marks items that entered the library through the community pool.
const SourceCommunity = "community"

// LibraryItem is one saved infographic with its metadata.
type LibraryItem struct {
	ID           string          `json:"id"`
	SeqID        int             `json:"seqId,omitempty"`
	Title        string          `json:"title"`
	Summary      string          `json:"summary"`
	Date         string          `json:"date"`
	ChapterID    string          `json:"chapterId"`
	Data         json.RawMessage `json:"data,omitempty"`
	ServerSynced bool            `json:"_serverSynced,omitempty"`
	Source       string          `json:"source,omitempty"`
	SubmittedBy  string          `json:"submittedBy,omitempty"`
}

// wireItem mirrors LibraryItem with loosely typed fields for decoding.
type wireItem struct {
	ID           json.RawMessage `json:"id"`
	SeqID        json.RawMessage `json:"seqId"`
	Title        json.RawMessage `json:"title"`
	Summary      json.RawMessage `json:"summary"`
	Date         json.RawMessage `json:"date"`
	ChapterID    json.RawMessage `json:"chapterId"`
	Data         json.RawMessage `json:"data"`
	ServerSynced json.RawMessage `json:"_serverSynced"`
	Source       json.RawMessage `json:"source"`
	SubmittedBy  json.RawMessage `json:"submittedBy"`
}

// UnmarshalJSON accepts numeric ids, numeric or string seqIds, epoch-millisecond dates and
// non-string scalars where strings are expected. Unusable values decode to zero values.
func (it *LibraryItem) UnmarshalJSON(b []byte) error {
	var w wireItem
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*it = LibraryItem{
		ID:          looseString(w.ID),
		SeqID:       looseInt(w.SeqID),
		Title:       looseString(w.Title),
		Summary:     looseString(w.Summary),
		Date:        looseDate(w.Date),
		ChapterID:   looseString(w.ChapterID),
		Source:      looseString(w.Source),
		SubmittedBy: looseString(w.SubmittedBy),
	}
	if d := bytes.TrimSpace(w.Data); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
		it.Data = append(json.RawMessage(nil), d...)
	}
	it.ServerSynced = looseBool(w.ServerSynced)
	return nil
}

// Time parses Date. ok is false for missing or unparsable dates.
func (it LibraryItem) Time() (time.Time, bool) { return ParseDate(it.Date) }

// HasChapter reports whether the item carries a real chapter assignment.
func (it LibraryItem) HasChapter() bool {
	return it.ChapterID != "" && it.ChapterID != Uncategorized
}

// MirrorFromData fills an empty Title or Summary from the infographic document's own
// "title" and "summary" fields.
func (it *LibraryItem) MirrorFromData() {
	if len(it.Data) == 0 || (strings.TrimSpace(it.Title) != "" && strings.TrimSpace(it.Summary) != "") {
		return
	}
	var doc struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(it.Data, &doc); err != nil {
		return
	}
	if strings.TrimSpace(it.Title) == "" {
		it.Title = strings.TrimSpace(doc.Title)
	}
	if strings.TrimSpace(it.Summary) == "" {
		it.Summary = strings.TrimSpace(doc.Summary)
	}
}

// FormatDate renders t in DateLayout, always in UTC.
func FormatDate(t time.Time) string { return t.UTC().Format(DateLayout) }

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses the date forms found in stored and remote libraries.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func looseInt(raw json.RawMessage) int {
	s := looseString(raw)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n > 0 && n <= math.MaxInt32 {
			return n
		}
		return 0
	}
	// Out of range values read as missing; the assigner renumbers them.
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 1 && f <= math.MaxInt32 {
		return int(f)
	}
	return 0
}

func looseBool(raw json.RawMessage) bool {
	switch strings.ToLower(looseString(raw)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// looseDate keeps string dates as written and converts epoch milliseconds.
func looseDate(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			if ms, err := n.Int64(); err == nil && ms > 0 {
				return FormatDate(time.UnixMilli(ms))
			}
		}
	}
	return looseString(raw)
}
