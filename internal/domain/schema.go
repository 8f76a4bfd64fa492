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
	_ "embed"
	"fmt"
	"sync"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

//go:embed item.schema.json
var itemSchemaJSON []byte

var (
	itemSchemaOnce sync.Once
	itemSchema     *gojsonschema.Schema
	itemSchemaErr  error
)

func compiledItemSchema() (*gojsonschema.Schema, error) {
	itemSchemaOnce.Do(func() {
		itemSchema, itemSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(itemSchemaJSON))
	})
	return itemSchema, itemSchemaErr
}

// ItemSchema returns the JSON schema describing one well-formed library item.
func ItemSchema() []byte {
	return append([]byte(nil), itemSchemaJSON...)
}

// ValidateItem checks one raw JSON item against ItemSchema and returns the violations.
// Decoding stays lenient; callers use the result for logging or to reject uploads.
func ValidateItem(raw []byte) ([]string, error) {
	schema, err := compiledItemSchema()
	if err != nil {
		return nil, fmt.Errorf("compile item schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validate item: %w", err)
	}
	if res.Valid() {
		return nil, nil
	}
	out := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		out = append(out, e.String())
	}
	return out, nil
}
