/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package classify maps free-text infographic titles onto the fixed chapter taxonomy.
package classify

import (
	"strings"

	"ophthograph/internal/domain"
)

// Rule assigns ChapterID when any keyword occurs in a title.
type Rule struct {
	ChapterID string
	Keywords  []string
}

// rules are checked in order and the first match wins. Subspecialties whose vocabulary
// overlaps broader chapters come first: retinopathy of prematurity is pediatric before it
// is retina, choroiditis is uveitis before it is retina, a contact lens is refractive
// before it is lens. Keywords are lowercase.
var rules = []Rule{
	{ChapterID: "neuro", Keywords: []string{"neuro-ophthalm", "neuro ophthalm", "optic neuritis", "papilledema", "papilloedema", "visual field defect", "nystagmus", "cranial nerve", "diplopia", "chiasm", "anisocoria", "afferent pupillary", "ischemic optic neuropathy", "horner"}},
	{ChapterID: "pediatric", Keywords: []string{"pediatric", "paediatric", "strabismus", "amblyopia", "esotropia", "exotropia", "retinopathy of prematurity", "congenital", "child", "infant"}},
	{ChapterID: "oculoplastics", Keywords: []string{"oculoplastic", "eyelid", "ptosis", "orbit", "lacrimal", "entropion", "ectropion", "blephar", "thyroid eye", "dacryo"}},
	{ChapterID: "uveitis", Keywords: []string{"uveitis", "iritis", "scleritis", "choroiditis", "endophthalmitis", "vasculitis", "behcet", "sarcoid", "toxoplasm"}},
	{ChapterID: "glaucoma", Keywords: []string{"glaucoma", "intraocular pressure", "trabecul", "angle closure", "gonioscopy", "optic disc cupping", "ocular hypertension"}},
	{ChapterID: "retina", Keywords: []string{"retina", "retinal", "macula", "retinopathy", "vitre", "choroid", "central serous", "retinal detachment"}},
	{ChapterID: "cornea", Keywords: []string{"cornea", "keratitis", "keratoconus", "keratoplasty", "conjunctiv", "dry eye", "pterygium", "external disease", "fuchs"}},
	{ChapterID: "refractive", Keywords: []string{"refractive surgery", "lasik", "photorefractive", "smile procedure", "contact lens", "myopia", "hyperopia", "astigmatism", "presbyopia"}},
	{ChapterID: "lens", Keywords: []string{"cataract", "phaco", "lens", "aphakia", "pseudophak", "capsul"}},
	{ChapterID: "optics", Keywords: []string{"optics", "refraction", "retinoscopy", "prism", "vergence", "magnification", "low vision"}},
	{ChapterID: "pathology", Keywords: []string{"pathology", "histopath", "tumor", "tumour", "melanoma", "retinoblastoma", "neoplasm", "biopsy"}},
	{ChapterID: "fundamentals", Keywords: []string{"anatomy", "physiology", "embryology", "pharmacology", "biochem", "genetic", "immunology"}},
}

// Chapter returns the chapter id for title, or domain.Uncategorized when no rule matches.
func Chapter(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return domain.Uncategorized
	}
	for _, r := range rules {
		for _, k := range r.Keywords {
			if strings.Contains(t, k) {
				return r.ChapterID
			}
		}
	}
	return domain.Uncategorized
}

// Explain returns the matching rule and keyword for title. ok is false when nothing matched.
func Explain(title string) (chapterID, keyword string, ok bool) {
	t := strings.ToLower(strings.TrimSpace(title))
	for _, r := range rules {
		for _, k := range r.Keywords {
			if t != "" && strings.Contains(t, k) {
				return r.ChapterID, k, true
			}
		}
	}
	return domain.Uncategorized, "", false
}

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{ChapterID: r.ChapterID, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}
