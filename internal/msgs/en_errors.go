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

package msgs

import (
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

var _ = registerMTRPrefix()

func registerMTRPrefix() bool {
	i18n.RegisterPrefix("MTR01", "Matternode")
	return true
}

var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Lifecycle / asynchronous construction MTR0100xx
	MsgLifecycleNotReady      = ffe("MTR010000", "Dependency '%s' is not initialized (status=%s)")
	MsgLifecycleIncapacitated = ffe("MTR010001", "Dependency '%s' initialization failed")
	MsgLifecycleSecondStart   = ffe("MTR010002", "Initializer already started for '%s'")
	MsgLifecycleNoInitializer = ffe("MTR010003", "No deferred initializer supplied for '%s'")

	// Discovery orchestration MTR0101xx
	MsgDiscoveryNoAddressKnown      = ffe("MTR010100", "No operational address known for %s and no discovery requested")
	MsgDiscoveryNothingFound        = ffe("MTR010101", "Operational discovery for %s produced no usable address")
	MsgDiscoveryRetransKindReserved = ffe("MTR010102", "Retransmission discovery is started internally on reliable-messaging retries and cannot be requested")
	MsgDiscoveryTimeoutKindMismatch = ffe("MTR010103", "A discovery timeout is only valid with timed discovery (requested kind %s)")
	MsgDiscoveryCancelled           = ffe("MTR010104", "Discovery for %s cancelled")
	MsgDiscoveryManagerClosed       = ffe("MTR010105", "Peer manager is closed")

	// Pairing / CASE MTR0102xx
	MsgPairNoInterfaceForFamily = ffe("MTR010200", "Pair retransmission limit reached: no %s UDP interface available for %s")
	MsgPairRetransmissionLimit  = ffe("MTR010201", "Pair retransmission limit reached for %s: %s")
	MsgPairCaseFailed           = ffe("MTR010202", "CASE establishment with %s failed")

	// Channels / reconnect MTR0103xx
	MsgChannelNone                = ffe("MTR010300", "No channel registered for %s")
	MsgChannelRetransmissionLimit = ffe("MTR010301", "Retransmission limit reached for %s")
	MsgChannelReconnectNoAddress  = ffe("MTR010302", "Reconnect for %s found no operational address")

	// Peer set / store MTR0104xx
	MsgPeerStoreLoadFailed   = ffe("MTR010400", "Failed to load persisted peers")
	MsgPeerStoreUpdateFailed = ffe("MTR010401", "Failed to persist peer %s")
	MsgPeerStoreDeleteFailed = ffe("MTR010402", "Failed to delete persisted peer %s")
	MsgPeerInvalidAddress    = ffe("MTR010403", "Invalid persisted peer address '%s'")

	// Interaction queue MTR0105xx
	MsgQueueClosed = ffe("MTR010500", "Interaction queue closed")

	// Storage-side sibling core compatibility MTR0106xx
	MsgIdentityConflict = ffe("MTR010600", "Endpoint number %d is claimed by more than one part")

	// mDNS scanner MTR0107xx
	MsgScanInterfaceUnavailable = ffe("MTR010700", "Unable to open multicast DNS listener: %s")
	MsgScanTimedOut             = ffe("MTR010701", "Operational device %s was not discovered within %dms")
)
