/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage implements the local entity store.
// The library lives as one JSON blob under a fixed key in an embedded SQLite database at <data dir>/library.sqlite, the layout the browser client used for its local storage.
// Every save keeps the previous blob as a snapshot and refreshes a derived FTS5 index used for search; the index is rebuildable and disposable.
// Export files are written transactionally with timestamped backups.
package storage
