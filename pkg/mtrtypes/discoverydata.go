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

package mtrtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// DiscoveryData carries the DNS-SD TXT hints advertised by an operational
// node. The three recognized keys seed session parameters before CASE
// completes; anything else the advertiser published is retained opaquely.
//
// All intervals are milliseconds.
type DiscoveryData struct {
	SessionIdleInterval    *uint32           `json:"SII,omitempty"`
	SessionActiveInterval  *uint32           `json:"SAI,omitempty"`
	SessionActiveThreshold *uint32           `json:"SAT,omitempty"`
	Extra                  map[string]string `json:"extra,omitempty"`
}

// Value implements driver.Valuer so the bag persists as a JSON column.
func (dd DiscoveryData) Value() (driver.Value, error) {
	b, err := json.Marshal(&dd)
	return string(b), err
}

// Scan implements sql.Scanner.
func (dd *DiscoveryData) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(v), dd)
	case []byte:
		return json.Unmarshal(v, dd)
	default:
		return fmt.Errorf("unable to scan %T into DiscoveryData", src)
	}
}
