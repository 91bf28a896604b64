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

package peermgr

import (
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/internal/msgs"
)

// handleResubmissionStarted reacts to the reliable-messaging first-retry
// event: the peer may have moved address, so fire a short cache-bypassing
// scan to refresh what the mDNS scanner knows. Best-effort only - the sender
// is never blocked and errors are logged, not surfaced.
func (pm *PeerManager) handleResubmissionStarted(session components.Session) {
	if !session.IsSecure() {
		return
	}
	address := session.PeerAddress()
	if address == nil {
		return
	}

	pm.psLock.Lock()
	if pm.closed {
		pm.psLock.Unlock()
		return
	}
	if _, running := pm.discoveries.Get(address); running {
		// Some discovery is already looking for this peer
		pm.psLock.Unlock()
		return
	}
	rd := newRunningDiscovery(DiscoveryRetransmission)
	pm.discoveries.Set(address, rd)
	pm.psLock.Unlock()

	go func() {
		ctx := log.WithLogField(pm.bgCtx, "peer", address.String())
		fabric := pm.c.SessionManager().FabricFor(address)
		if fabric == nil {
			pm.finishDiscovery(ctx, address, rd, nil, newDiscoveryError(ctx, msgs.MsgDiscoveryNothingFound, address))
			return
		}
		log.L(ctx).Debugf("resubmission detected for %s, starting %s scan", address, pm.retransWindow)
		_, err := pm.c.Scanner().FindOperationalDevice(ctx, fabric, address.Node, pm.retransWindow, true)
		if err != nil {
			log.L(ctx).Debugf("retransmission discovery for %s found nothing: %s", address, err)
		}
		// The scan refreshes the scanner cache only - no pairing here. Any
		// waiter that piggybacked on the placeholder gets a discovery error
		// and falls back to its own strategy.
		pm.finishDiscovery(ctx, address, rd, nil, newDiscoveryError(ctx, msgs.MsgDiscoveryNothingFound, address))
	}()
}
