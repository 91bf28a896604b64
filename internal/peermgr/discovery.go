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
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/internal/msgs"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// runningDiscovery is the single in-flight discovery allowed per peer
// address. Multiple producers (direct poll, mDNS query) race to resolve it;
// the first usable channel wins and later results are discarded because the
// entry is gone by then.
type runningDiscovery struct {
	id   uuid.UUID
	kind DiscoveryKind

	resolveOnce sync.Once
	done        chan struct{}
	channel     *components.MessageChannel
	err         error

	stopOnce sync.Once
	pollStop chan struct{}
}

func newRunningDiscovery(kind DiscoveryKind) *runningDiscovery {
	return &runningDiscovery{
		id:       uuid.New(),
		kind:     kind,
		done:     make(chan struct{}),
		pollStop: make(chan struct{}),
	}
}

func (rd *runningDiscovery) stopTimers() {
	rd.stopOnce.Do(func() { close(rd.pollStop) })
}

// connectViaDiscovery is the discovery orchestrator: it coalesces waiters
// onto a running discovery, supersedes it when a strictly more aggressive
// kind is requested, and otherwise starts the requested strategy.
func (pm *PeerManager) connectViaDiscovery(ctx context.Context, address *mtrtypes.PeerAddress, opts *ConnectOptions) (*components.MessageChannel, error) {
	kind := opts.Discovery
	for {
		pm.psLock.Lock()
		if pm.closed {
			pm.psLock.Unlock()
			return nil, i18n.NewError(ctx, msgs.MsgDiscoveryManagerClosed)
		}
		rd, running := pm.discoveries.Get(address)
		if running {
			if kind > rd.kind {
				// Strictly more aggressive: cancel and replace. The prior
				// discovery's waiters are released with a cancellation - the
				// new discovery succeeds or fails on its own.
				pm.discoveries.Delete(address)
				pm.psLock.Unlock()
				pm.cancelDiscovery(ctx, address, rd)
				continue
			}
			// Lower or equal: share the in-flight discovery
			pm.psLock.Unlock()
			return pm.awaitDiscovery(ctx, rd)
		}

		if kind == DiscoveryNone {
			pm.psLock.Unlock()
			return pm.connectCachedOnly(ctx, address, opts)
		}

		rd = newRunningDiscovery(kind)
		pm.discoveries.Set(address, rd)
		pm.psLock.Unlock()
		log.L(ctx).Debugf("starting %s discovery %s for %s", kind, rd.id, address)
		go pm.runDiscovery(address, rd, opts)
		return pm.awaitDiscovery(ctx, rd)
	}
}

// connectCachedOnly is the DiscoveryNone path: one direct attempt against
// the cached operational address; failure raises a discovery error
// immediately.
func (pm *PeerManager) connectCachedOnly(ctx context.Context, address *mtrtypes.PeerAddress, opts *ConnectOptions) (*components.MessageChannel, error) {
	knownAddress := pm.KnownOperationalAddressFor(address)
	if knownAddress == nil {
		return nil, newDiscoveryError(ctx, msgs.MsgDiscoveryNoAddressKnown, address)
	}
	discoveryData := pm.discoveryDataFor(address)
	mc, err := pm.pair(ctx, address, knownAddress, discoveryData, opts.ExpectedProcessingTime)
	if err != nil {
		return nil, &DiscoveryError{
			error:   i18n.WrapError(ctx, err, msgs.MsgDiscoveryNothingFound, address),
			Address: address,
		}
	}
	pm.rememberPeer(ctx, address, knownAddress, discoveryData)
	return mc, nil
}

func (pm *PeerManager) awaitDiscovery(ctx context.Context, rd *runningDiscovery) (*components.MessageChannel, error) {
	select {
	case <-rd.done:
		return rd.channel, rd.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-pm.bgCtx.Done():
		return nil, i18n.NewError(ctx, msgs.MsgDiscoveryManagerClosed)
	}
}

// finishDiscovery resolves the discovery for all waiters and removes the
// entry if it is still current. Late producers lose the resolveOnce race and
// their results are discarded.
func (pm *PeerManager) finishDiscovery(ctx context.Context, address *mtrtypes.PeerAddress, rd *runningDiscovery, mc *components.MessageChannel, err error) {
	won := false
	rd.resolveOnce.Do(func() {
		rd.channel = mc
		rd.err = err
		won = true
	})
	if !won {
		if mc != nil {
			log.L(ctx).Debugf("discarding late discovery result for %s", address)
		}
		return
	}
	rd.stopTimers()
	pm.psLock.Lock()
	if current, ok := pm.discoveries.Get(address); ok && current == rd {
		pm.discoveries.Delete(address)
	}
	pm.psLock.Unlock()
	close(rd.done)
}

// cancelDiscovery supersedes a running discovery: timers stop, the scanner
// is told to stop looking for this node without resolving its waiters, and
// our own waiters get a cancellation error.
func (pm *PeerManager) cancelDiscovery(ctx context.Context, address *mtrtypes.PeerAddress, rd *runningDiscovery) {
	rd.stopTimers()
	if fabric := pm.c.SessionManager().FabricFor(address); fabric != nil {
		pm.c.Scanner().CancelOperationalDeviceDiscovery(fabric, address.Node, false)
	}
	won := false
	rd.resolveOnce.Do(func() {
		rd.err = newDiscoveryError(ctx, msgs.MsgDiscoveryCancelled, address)
		won = true
	})
	if won {
		close(rd.done)
	}
}

func (pm *PeerManager) discoveryDataFor(address *mtrtypes.PeerAddress) *mtrtypes.DiscoveryData {
	pm.psLock.Lock()
	defer pm.psLock.Unlock()
	if peer, ok := pm.peers.Get(address); ok {
		return peer.DiscoveryData
	}
	return nil
}

// runDiscovery is the producer side of one discovery. It runs on its own
// goroutine against the manager background context, so the first caller
// going away does not abort a discovery other callers share.
func (pm *PeerManager) runDiscovery(address *mtrtypes.PeerAddress, rd *runningDiscovery, opts *ConnectOptions) {
	ctx := log.WithLogField(pm.bgCtx, "peer", address.String())
	knownAddress := pm.KnownOperationalAddressFor(address)
	discoveryData := pm.discoveryDataFor(address)

	// Direct reconnect against the cached address before any mDNS traffic
	if knownAddress != nil {
		mc, err := pm.pair(ctx, address, knownAddress, discoveryData, opts.ExpectedProcessingTime)
		if err == nil {
			pm.rememberPeer(ctx, address, knownAddress, discoveryData)
			pm.finishDiscovery(ctx, address, rd, mc, nil)
			return
		}
		log.L(ctx).Debugf("direct reconnect to %s failed, scanning: %s", knownAddress, err)
	}

	fabric := pm.c.SessionManager().FabricFor(address)
	if fabric == nil {
		pm.finishDiscovery(ctx, address, rd, nil, newDiscoveryError(ctx, msgs.MsgDiscoveryNothingFound, address))
		return
	}

	// Full discovery keeps re-trying the cached address while mDNS runs
	if rd.kind == DiscoveryFull && knownAddress != nil {
		go pm.pollCachedAddress(ctx, address, rd, fabric, knownAddress, discoveryData, opts)
	}

	var timeout time.Duration
	if rd.kind == DiscoveryTimed {
		timeout = opts.Timeout
	}
	dev, err := pm.c.Scanner().FindOperationalDevice(ctx, fabric, address.Node, timeout, false)
	if err != nil {
		pm.finishDiscovery(ctx, address, rd, nil, &DiscoveryError{
			error:   i18n.WrapError(ctx, err, msgs.MsgDiscoveryNothingFound, address),
			Address: address,
		})
		return
	}
	if dev == nil || len(dev.Addresses) == 0 {
		pm.finishDiscovery(ctx, address, rd, nil, newDiscoveryError(ctx, msgs.MsgDiscoveryNothingFound, address))
		return
	}

	var lastErr error
	for i := range dev.Addresses {
		sa := dev.Addresses[i]
		mc, err := pm.pair(ctx, address, &sa, dev.DiscoveryData, opts.ExpectedProcessingTime)
		if err == nil {
			pm.rememberPeer(ctx, address, &sa, dev.DiscoveryData)
			pm.finishDiscovery(ctx, address, rd, mc, nil)
			return
		}
		lastErr = err
		log.L(ctx).Debugf("pairing with discovered address %s failed: %s", &sa, err)
	}
	pm.finishDiscovery(ctx, address, rd, nil, lastErr)
}

// pollCachedAddress is the periodic direct-retry producer a full discovery
// runs alongside mDNS. A success cancels the mDNS side and resolves the
// overall operation; an unexpected failure rejects it.
func (pm *PeerManager) pollCachedAddress(ctx context.Context, address *mtrtypes.PeerAddress, rd *runningDiscovery, fabric *components.Fabric, sa *mtrtypes.ServerAddress, discoveryData *mtrtypes.DiscoveryData, opts *ConnectOptions) {
	ticker := time.NewTicker(pm.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rd.pollStop:
			return
		case <-rd.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		mc, err := pm.pair(ctx, address, sa, discoveryData, opts.ExpectedProcessingTime)
		if err == nil {
			pm.c.Scanner().CancelOperationalDeviceDiscovery(fabric, address.Node, false)
			pm.rememberPeer(ctx, address, sa, discoveryData)
			pm.finishDiscovery(ctx, address, rd, mc, nil)
			return
		}
		if !IsPairRetransmissionLimitReached(err) && !components.IsNoResponseTimeout(err) && !IsDiscoveryError(err) {
			pm.finishDiscovery(ctx, address, rd, nil, err)
			return
		}
		log.L(ctx).Debugf("cached address %s still unreachable: %s", sa, err)
	}
}
