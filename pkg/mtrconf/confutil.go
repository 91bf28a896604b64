/*
 * Copyright © 2025 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package mtrconf

import "time"

func IntP(v int) *int       { return &v }
func StrP(v string) *string { return &v }

// Int resolves a pointer config field against its default.
func Int(v *int, def *int) int {
	if v != nil {
		return *v
	}
	return *def
}

// Duration resolves a duration string field against its default. Unparseable
// values fall back to the default rather than failing startup.
func Duration(v *string, def *string) time.Duration {
	for _, s := range []*string{v, def} {
		if s == nil {
			continue
		}
		if d, err := time.ParseDuration(*s); err == nil {
			return d
		}
	}
	return 0
}
