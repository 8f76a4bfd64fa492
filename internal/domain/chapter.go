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

// Uncategorized is the chapter id for items outside the taxonomy.
const Uncategorized = "uncategorized"

// Chapter is one entry of the fixed category taxonomy used to organize the library.
type Chapter struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// defaultChapters follows the section structure of the basic and clinical science course.
// The order is the display order; the classifier keeps its own rule order.
var defaultChapters = []Chapter{
	{ID: "fundamentals", Name: "Fundamentals & Principles", Color: "#64748b"},
	{ID: "optics", Name: "Clinical Optics", Color: "#0ea5e9"},
	{ID: "pathology", Name: "Ophthalmic Pathology & Intraocular Tumors", Color: "#a855f7"},
	{ID: "neuro", Name: "Neuro-Ophthalmology", Color: "#f59e0b"},
	{ID: "pediatric", Name: "Pediatric Ophthalmology & Strabismus", Color: "#ec4899"},
	{ID: "oculoplastics", Name: "Oculofacial Plastic & Orbital Surgery", Color: "#f97316"},
	{ID: "cornea", Name: "External Disease & Cornea", Color: "#14b8a6"},
	{ID: "uveitis", Name: "Uveitis & Ocular Inflammation", Color: "#ef4444"},
	{ID: "glaucoma", Name: "Glaucoma", Color: "#22c55e"},
	{ID: "lens", Name: "Lens & Cataract", Color: "#eab308"},
	{ID: "retina", Name: "Retina & Vitreous", Color: "#dc2626"},
	{ID: "refractive", Name: "Refractive Surgery", Color: "#6366f1"},
}

// DefaultChapters returns a copy of the hardcoded taxonomy.
func DefaultChapters() []Chapter {
	return append([]Chapter(nil), defaultChapters...)
}

// ValidChapter reports whether id is a taxonomy id or Uncategorized.
func ValidChapter(id string) bool {
	if id == Uncategorized {
		return true
	}
	_, ok := ChapterByID(id)
	return ok
}

// ChapterByID looks up a taxonomy entry.
func ChapterByID(id string) (Chapter, bool) {
	for _, c := range defaultChapters {
		if c.ID == id {
			return c, true
		}
	}
	return Chapter{}, false
}

// NormalizeChapter maps empty and unknown ids to Uncategorized.
func NormalizeChapter(id string) string {
	if ValidChapter(id) {
		return id
	}
	return Uncategorized
}
