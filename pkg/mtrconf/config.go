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

// PeerManagerConfig tunes the operational peer connection core. All fields are
// optional; zero-value config gets PeerManagerDefaults.
type PeerManagerConfig struct {
	Discovery DiscoveryConfig        `json:"discovery"`
	Queue     InteractionQueueConfig `json:"interactionQueue"`
	NodeCache NodeCacheConfig        `json:"nodeCache"`
}

type DiscoveryConfig struct {
	// CachedAddressPollInterval is how often a full discovery re-tries the
	// last known operational address in parallel with mDNS.
	CachedAddressPollInterval *string `json:"cachedAddressPollInterval"`
	// RetransmissionWindow bounds the scan fired by the resubmission reactor.
	RetransmissionWindow *string `json:"retransmissionWindow"`
	// ReconnectProcessingTime is the expected-processing hint used by the
	// channel reconnect path.
	ReconnectProcessingTime *string `json:"reconnectProcessingTime"`
}

type InteractionQueueConfig struct {
	Concurrency    *int    `json:"concurrency"`
	AdmissionDelay *string `json:"admissionDelay"`
}

type NodeCacheConfig struct {
	Capacity *int `json:"capacity"`
}

var PeerManagerDefaults = &PeerManagerConfig{
	Discovery: DiscoveryConfig{
		CachedAddressPollInterval: StrP("10m"),
		RetransmissionWindow:      StrP("5s"),
		ReconnectProcessingTime:   StrP("2s"),
	},
	Queue: InteractionQueueConfig{
		Concurrency:    IntP(4),
		AdmissionDelay: StrP("100ms"),
	},
	NodeCache: NodeCacheConfig{
		Capacity: IntP(256),
	},
}
