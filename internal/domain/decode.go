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
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeItems decodes a JSON array of library items element by element. Elements that
// are not JSON objects are dropped and counted instead of failing the whole array. A
// null or empty document yields no items.
func DecodeItems(b []byte) (items []LibraryItem, dropped int, err error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, 0, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode item array: %w", err)
	}
	items = make([]LibraryItem, 0, len(raw))
	for _, el := range raw {
		el = bytes.TrimSpace(el)
		if len(el) == 0 || el[0] != '{' {
			dropped++
			continue
		}
		var it LibraryItem
		if err := json.Unmarshal(el, &it); err != nil {
			dropped++
			continue
		}
		items = append(items, it)
	}
	return items, dropped, nil
}
