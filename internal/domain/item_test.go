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

import (
	"encoding/json"
	"testing"
	"time"
)

func TestLibraryItemDecodesLegacyShapes(t *testing.T) {
	raw := `{"id": 1718000000000, "seqId": "3", "title": "Glaucoma Basics", "date": 1718000000000,
		"chapterId": null, "data": {"title": "Glaucoma Basics"}, "_serverSynced": true}`
	var it LibraryItem
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if it.ID != "1718000000000" {
		t.Fatalf("ID = %q, want %q", it.ID, "1718000000000")
	}
	if it.SeqID != 3 {
		t.Fatalf("SeqID = %d, want 3", it.SeqID)
	}
	if got, want := it.Date, FormatDate(time.UnixMilli(1718000000000)); got != want {
		t.Fatalf("Date = %q, want %q", got, want)
	}
	if it.ChapterID != "" {
		t.Fatalf("ChapterID = %q, want empty", it.ChapterID)
	}
	if !it.ServerSynced {
		t.Fatalf("ServerSynced expected true")
	}
	if len(it.Data) == 0 {
		t.Fatalf("Data expected to be kept")
	}
}

func TestLibraryItemMissingFieldsDecodeToZero(t *testing.T) {
	var it LibraryItem
	if err := json.Unmarshal([]byte(`{"summary": 42, "seqId": "x"}`), &it); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if it.Title != "" || it.Date != "" || it.SeqID != 0 {
		t.Fatalf("unexpected values: %+v", it)
	}
	if it.Summary != "42" {
		t.Fatalf("Summary = %q, want %q", it.Summary, "42")
	}
}

func TestLibraryItemOutOfRangeSeqIDReadsAsMissing(t *testing.T) {
	cases := map[string]int{
		`1e300`:        0,
		`"1e300"`:      0,
		`9999999999`:   0,
		`-4`:           0,
		`2.0`:          2,
		`"2147483647"`: 2147483647,
	}
	for raw, want := range cases {
		var it LibraryItem
		if err := json.Unmarshal([]byte(`{"seqId": `+raw+`}`), &it); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if it.SeqID != want {
			t.Fatalf("seqId %s: SeqID = %d, want %d", raw, it.SeqID, want)
		}
	}
}

func TestLibraryItemRoundTripKeepsWireNames(t *testing.T) {
	in := LibraryItem{ID: "a", SeqID: 1, Title: "T", Date: "2025-01-02T03:04:05.000Z", ChapterID: "retina", ServerSynced: true}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal map: %v", err)
	}
	for _, k := range []string{"id", "seqId", "title", "date", "chapterId", "_serverSynced"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing key %q in %s", k, b)
		}
	}
	var out LibraryItem
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != in.ID || out.SeqID != in.SeqID || out.ChapterID != in.ChapterID || !out.ServerSynced {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2025-03-01T10:00:00.000Z", true},
		{"2025-03-01T10:00:00+02:00", true},
		{"2025-03-01", true},
		{"1718000000000", true},
		{"", false},
		{"yesterday", false},
	}
	for _, tc := range cases {
		if _, ok := ParseDate(tc.in); ok != tc.ok {
			t.Fatalf("ParseDate(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
	}
}

func TestMirrorFromData(t *testing.T) {
	it := LibraryItem{Data: json.RawMessage(`{"title":" Retinal Detachment ","summary":"Flashes and floaters"}`)}
	it.MirrorFromData()
	if it.Title != "Retinal Detachment" || it.Summary != "Flashes and floaters" {
		t.Fatalf("mirror failed: %+v", it)
	}
	kept := LibraryItem{Title: "Mine", Data: json.RawMessage(`{"title":"Theirs"}`)}
	kept.MirrorFromData()
	if kept.Title != "Mine" {
		t.Fatalf("existing title overwritten: %q", kept.Title)
	}
}

func TestChapterTaxonomy(t *testing.T) {
	if !ValidChapter(Uncategorized) || !ValidChapter("glaucoma") {
		t.Fatalf("expected uncategorized and glaucoma to be valid")
	}
	if ValidChapter("dermatology") || ValidChapter("") {
		t.Fatalf("unexpected valid chapter")
	}
	if got := NormalizeChapter("dermatology"); got != Uncategorized {
		t.Fatalf("NormalizeChapter = %q, want %q", got, Uncategorized)
	}
	chs := DefaultChapters()
	chs[0].ID = "mutated"
	if _, ok := ChapterByID("fundamentals"); !ok {
		t.Fatalf("DefaultChapters must return a copy")
	}
}

func TestSubmissionToItemPrefersApprovalDate(t *testing.T) {
	s := Submission{ID: "s1", Title: "Keratoconus", UserName: "dr.lee", SubmittedAt: "2025-01-01T00:00:00.000Z", ApprovedAt: "2025-02-01T00:00:00.000Z"}
	it := s.ToItem()
	if it.Date != s.ApprovedAt || it.Source != SourceCommunity || it.SubmittedBy != "dr.lee" {
		t.Fatalf("unexpected item: %+v", it)
	}
	s.ApprovedAt = ""
	if got := s.ToItem().Date; got != s.SubmittedAt {
		t.Fatalf("Date = %q, want %q", got, s.SubmittedAt)
	}
}

func TestDecodeItemsDropsNonObjects(t *testing.T) {
	items, dropped, err := DecodeItems([]byte(`[{"id":"a","title":"Ptosis"}, 42, "x", null, {"id":7}]`))
	if err != nil {
		t.Fatalf("DecodeItems: %v", err)
	}
	if dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}
	if len(items) != 2 || items[0].ID != "a" || items[1].ID != "7" {
		t.Fatalf("items = %+v", items)
	}

	if items, _, err := DecodeItems([]byte("null")); err != nil || items != nil {
		t.Fatalf("null document = %v, %v", items, err)
	}
	if _, _, err := DecodeItems([]byte(`{"id":"a"}`)); err == nil {
		t.Fatalf("expected error for non-array document")
	}
}

func TestValidateItem(t *testing.T) {
	problems, err := ValidateItem([]byte(`{"id":"a","title":"Ptosis","date":"2024-01-01T00:00:00.000Z","chapterId":"oculoplastics"}`))
	if err != nil {
		t.Fatalf("ValidateItem: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("problems = %v, want none", problems)
	}

	problems, err = ValidateItem([]byte(`{"id":17,"date":1718000000000,"_serverSynced":"yes"}`))
	if err != nil {
		t.Fatalf("ValidateItem: %v", err)
	}
	if len(problems) != 2 {
		t.Fatalf("problems = %v, want missing title and bad _serverSynced", problems)
	}

	if _, err := ValidateItem([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
