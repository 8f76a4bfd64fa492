/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"ophthograph/internal/domain"
)

func TestExportImportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "library.json")
	if err := ExportJSON(path, sampleItems()); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	items, err := ImportJSON(path)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if len(items) != 2 || items[0].ID != "b" || items[1].Title != "Acute Angle Closure" {
		t.Fatalf("ImportJSON = %+v", items)
	}
}

func TestExportConformsToItemSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.json")
	if err := ExportJSON(path, sampleItems()); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var itemSchema map[string]any
	if err := json.Unmarshal(domain.ItemSchema(), &itemSchema); err != nil {
		t.Fatalf("parse item schema: %v", err)
	}
	delete(itemSchema, "$schema")
	delete(itemSchema, "$id")
	arraySchema := map[string]any{"type": "array", "items": itemSchema}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(arraySchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		t.Fatalf("schema validate error: %v", err)
	}
	if !result.Valid() {
		for _, e := range result.Errors() {
			t.Logf("schema error: %s", e)
		}
		t.Fatalf("export does not conform to schema")
	}
}

func TestImportFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "library.json")
	if err := ExportJSON(path, sampleItems()); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	// second export backs up the first
	if err := ExportJSON(path, sampleItems()[:1]); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if err := os.WriteFile(path, []byte("{ corrupted"), 0o644); err != nil {
		t.Fatalf("corrupt export: %v", err)
	}
	items, err := ImportJSON(path)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ImportJSON from backup returned %d items, want 2", len(items))
	}
}

func TestImportMissingWithoutBackup(t *testing.T) {
	if _, err := ImportJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing export without backups")
	}
}
