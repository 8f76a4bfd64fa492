/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package version reports the build version stamped in via -ldflags.
package version

import "fmt"

// Set with -ldflags "-X ophthograph/internal/version.Version=... -X ...Commit=... -X ...Date=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// String returns a one-line version description.
func String() string {
	s := "ophthograph " + Version
	if Commit != "" {
		short := Commit
		if len(short) > 7 {
			short = short[:7]
		}
		s += fmt.Sprintf(" (%s)", short)
	}
	if Date != "" {
		s += " built " + Date
	}
	return s
}
