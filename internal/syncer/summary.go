/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package syncer

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"ophthograph/internal/library"
	"ophthograph/internal/remote"
)

// maxTitleWidth is the display width titles are cut to in summaries.
const maxTitleWidth = 60

// SummarizePull renders the change report of a pull. At most limit titles are listed per
// category; the rest collapse into "...and N more".
func SummarizePull(res library.MergeResult, limit int) string {
	if res.Added == 0 && res.Updated == 0 && res.SkippedDuplicates == 0 {
		return "Library is up to date.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Library synced: %d added, %d updated, %d skipped as duplicates.\n",
		res.Added, res.Updated, res.SkippedDuplicates)
	writeTitles(&b, "Added", res.AddedTitles, limit)
	writeTitles(&b, "Updated", res.UpdatedTitles, limit)
	writeTitles(&b, "Skipped (duplicate title)", res.SkippedTitles, limit)
	return b.String()
}

// SummarizePush renders per-item push outcomes.
func SummarizePush(outcomes []remote.Outcome, limit int) string {
	var ok, failed []string
	for _, o := range outcomes {
		if o.OK() {
			ok = append(ok, o.Title)
		} else {
			failed = append(failed, fmt.Sprintf("%s: %v", truncate(o.Title), o.Err))
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pushed %d of %d items", len(ok), len(outcomes))
	if len(failed) > 0 {
		fmt.Fprintf(&b, ", %d failed", len(failed))
	}
	b.WriteString(".\n")
	writeTitles(&b, "Pushed", ok, limit)
	writeTitles(&b, "Failed", failed, limit)
	return b.String()
}

// SummarizeDedup renders the titles removed by a duplicate pass.
func SummarizeDedup(rep library.DedupReport, limit int) string {
	if len(rep.Removed) == 0 {
		return "No duplicates found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Removed %d duplicate items.\n", len(rep.Removed))
	writeTitles(&b, "Removed", rep.Titles(), limit)
	return b.String()
}

func writeTitles(b *strings.Builder, heading string, titles []string, limit int) {
	if len(titles) == 0 {
		return
	}
	if limit <= 0 {
		limit = len(titles)
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for i, t := range titles {
		if i == limit {
			fmt.Fprintf(b, "  ...and %d more\n", len(titles)-limit)
			break
		}
		fmt.Fprintf(b, "  - %s\n", truncate(t))
	}
}

func truncate(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "(untitled)"
	}
	return runewidth.Truncate(title, maxTitleWidth, "...")
}
