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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/retry"
	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/internal/lifecycle"
	"github.com/kaleido-io/matternode/internal/msgs"
	"github.com/kaleido-io/matternode/pkg/mtrconf"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// DiscoveryKind selects the discovery strategy for a connect. The numeric
// order is the "aggressiveness" total order used to decide whether a new
// request supersedes a running discovery.
type DiscoveryKind int

const (
	DiscoveryNone           DiscoveryKind = iota // cached addresses only
	DiscoveryRetransmission                      // short cache-bypassing scan, reactor-only
	DiscoveryTimed                               // bounded by a caller timeout
	DiscoveryFull                                // unbounded, with periodic cached-address polling
)

func (k DiscoveryKind) String() string {
	switch k {
	case DiscoveryNone:
		return "none"
	case DiscoveryRetransmission:
		return "retransmission"
	case DiscoveryTimed:
		return "timed"
	case DiscoveryFull:
		return "full"
	}
	return "unknown"
}

// ConnectOptions tune a single Connect call. Nil options mean full discovery.
type ConnectOptions struct {
	Discovery DiscoveryKind
	// Timeout bounds a DiscoveryTimed discovery. Invalid with other kinds.
	Timeout time.Duration
	// ExpectedProcessingTime is passed through to the pairing driver as the
	// peer's expected processing window.
	ExpectedProcessingTime time.Duration
}

// PeerManager owns the set of known operational peers and the machinery to
// turn a logical peer address into a live, authenticated message channel.
// All index state is guarded by psLock, which is never held across I/O.
type PeerManager struct {
	bgCtx     context.Context
	cancelCtx context.CancelFunc

	c            components.AllComponents
	construction *lifecycle.Construction[*PeerManager]

	pollInterval  time.Duration
	retransWindow time.Duration
	reconnectHint time.Duration
	storeRetry    *retry.Retry

	psLock      sync.Mutex
	peers       *mtrtypes.AddressMap[*components.OperationalPeer]
	discoveries *mtrtypes.AddressMap[*runningDiscovery]
	closed      bool

	queue     *interactionQueue
	nodeCache *nodeDataCache

	unregisterResubmission func()

	observerLock     sync.Mutex
	nextObserver     int
	addedObservers   map[int]func(*components.OperationalPeer)
	deletedObservers map[int]func(*components.OperationalPeer)
}

func NewPeerManager(bgCtx context.Context, conf *mtrconf.PeerManagerConfig, c components.AllComponents) *PeerManager {
	if conf == nil {
		conf = &mtrconf.PeerManagerConfig{}
	}
	defs := mtrconf.PeerManagerDefaults
	pm := &PeerManager{
		c:             c,
		pollInterval:  mtrconf.Duration(conf.Discovery.CachedAddressPollInterval, defs.Discovery.CachedAddressPollInterval),
		retransWindow: mtrconf.Duration(conf.Discovery.RetransmissionWindow, defs.Discovery.RetransmissionWindow),
		reconnectHint: mtrconf.Duration(conf.Discovery.ReconnectProcessingTime, defs.Discovery.ReconnectProcessingTime),
		storeRetry: &retry.Retry{
			InitialDelay: 50 * time.Millisecond,
			MaximumDelay: 500 * time.Millisecond,
			Factor:       2.0,
		},
		peers:       mtrtypes.NewAddressMap[*components.OperationalPeer](),
		discoveries: mtrtypes.NewAddressMap[*runningDiscovery](),
		queue: newInteractionQueue(
			mtrconf.Int(conf.Queue.Concurrency, defs.Queue.Concurrency),
			mtrconf.Duration(conf.Queue.AdmissionDelay, defs.Queue.AdmissionDelay),
		),
		nodeCache:        newNodeDataCache(&conf.NodeCache),
		addedObservers:   map[int]func(*components.OperationalPeer){},
		deletedObservers: map[int]func(*components.OperationalPeer){},
	}
	pm.bgCtx, pm.cancelCtx = context.WithCancel(log.WithLogField(bgCtx, "mgr", "peers"))
	pm.unregisterResubmission = c.SessionManager().OnResubmissionStarted(pm.handleResubmissionStarted)
	pm.construction = lifecycle.New("peerManager", pm, pm.initialize, lifecycle.WithCancel(pm.cancelCtx))
	return pm
}

// initialize loads the persisted peer set. Connects issued before this
// resolves wait on the construction handle rather than observing a
// half-built index.
func (pm *PeerManager) initialize(ctx context.Context) error {
	peers, err := pm.c.PeerStore().LoadPeers(ctx)
	if err != nil {
		return err
	}
	pm.psLock.Lock()
	defer pm.psLock.Unlock()
	for _, peer := range peers {
		peer.Address = mtrtypes.InternPtr(peer.Address)
		pm.peers.Set(peer.Address, peer)
	}
	log.L(ctx).Infof("loaded %d operational peers", pm.peers.Len())
	return nil
}

// Construction exposes the asynchronous-construction handle.
func (pm *PeerManager) Construction() *lifecycle.Construction[*PeerManager] {
	return pm.construction
}

// Connect returns an interaction client bound to a live channel for the
// peer, establishing one via discovery and CASE if needed. Parallel calls
// for the same address share one in-flight discovery.
func (pm *PeerManager) Connect(ctx context.Context, address *mtrtypes.PeerAddress, opts *ConnectOptions) (components.InteractionClient, error) {
	if _, err := pm.construction.Await(ctx); err != nil {
		return nil, err
	}
	address = mtrtypes.InternPtr(address)
	if opts == nil {
		opts = &ConnectOptions{Discovery: DiscoveryFull}
	}
	if opts.Discovery == DiscoveryRetransmission {
		return nil, i18n.NewError(ctx, msgs.MsgDiscoveryRetransKindReserved)
	}
	if opts.Timeout != 0 && opts.Discovery != DiscoveryTimed {
		return nil, i18n.NewError(ctx, msgs.MsgDiscoveryTimeoutKindMismatch, opts.Discovery)
	}

	// Cached channel hit - no discovery, no pairing
	if _, err := pm.c.ChannelManager().GetChannel(ctx, address); err == nil {
		return pm.newInteractionClient(address), nil
	} else if !components.IsNoChannel(err) {
		return nil, err
	}

	if _, err := pm.connectViaDiscovery(ctx, address, opts); err != nil {
		return nil, err
	}
	return pm.newInteractionClient(address), nil
}

// GetPeer is a synchronous lookup; nil if unknown (or before initialization
// resolves).
func (pm *PeerManager) GetPeer(address *mtrtypes.PeerAddress) *components.OperationalPeer {
	if err := pm.construction.Assert(); err != nil {
		log.L(pm.bgCtx).Debugf("peer lookup before ready: %s", err)
		return nil
	}
	pm.psLock.Lock()
	defer pm.psLock.Unlock()
	peer, _ := pm.peers.Get(address)
	return peer
}

func (pm *PeerManager) HasPeer(address *mtrtypes.PeerAddress) bool {
	return pm.GetPeer(address) != nil
}

func (pm *PeerManager) Size() int {
	pm.psLock.Lock()
	defer pm.psLock.Unlock()
	return pm.peers.Len()
}

// Peers snapshots the peer set at the call instant.
func (pm *PeerManager) Peers() []*components.OperationalPeer {
	pm.psLock.Lock()
	defer pm.psLock.Unlock()
	peers := make([]*components.OperationalPeer, 0, pm.peers.Len())
	pm.peers.Each(func(_ *mtrtypes.PeerAddress, p *components.OperationalPeer) bool {
		peers = append(peers, p)
		return true
	})
	return peers
}

func (pm *PeerManager) FindPeer(match func(*components.OperationalPeer) bool) *components.OperationalPeer {
	for _, p := range pm.Peers() {
		if match(p) {
			return p
		}
	}
	return nil
}

func (pm *PeerManager) FilterPeers(match func(*components.OperationalPeer) bool) []*components.OperationalPeer {
	var filtered []*components.OperationalPeer
	for _, p := range pm.Peers() {
		if match(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// KnownOperationalAddressFor returns the best reachable address on file: a
// live scanner cache entry if present, otherwise the persisted operational
// address.
func (pm *PeerManager) KnownOperationalAddressFor(address *mtrtypes.PeerAddress) *mtrtypes.ServerAddress {
	address = mtrtypes.InternPtr(address)
	if fabric := pm.c.SessionManager().FabricFor(address); fabric != nil {
		if dev := pm.c.Scanner().GetDiscoveredOperationalDevice(fabric, address.Node); dev != nil && len(dev.Addresses) > 0 {
			sa := dev.Addresses[0]
			return &sa
		}
	}
	pm.psLock.Lock()
	defer pm.psLock.Unlock()
	if peer, ok := pm.peers.Get(address); ok {
		return peer.OperationalAddress
	}
	return nil
}

// Disconnect tears down all sessions and channels for the peer. The peer
// record remains.
func (pm *PeerManager) Disconnect(ctx context.Context, address *mtrtypes.PeerAddress) error {
	address = mtrtypes.InternPtr(address)
	if err := pm.c.ChannelManager().RemoveAllNodeChannels(ctx, address); err != nil {
		return err
	}
	return pm.c.SessionManager().RemoveAllSessionsForNode(ctx, address, true)
}

// DeletePeer removes the peer record, its persisted entry, sessions,
// channels, and resumption record. Unknown peers are a silent no-op.
// Failures in any step propagate.
func (pm *PeerManager) DeletePeer(ctx context.Context, address *mtrtypes.PeerAddress) error {
	if _, err := pm.construction.Await(ctx); err != nil {
		return err
	}
	address = mtrtypes.InternPtr(address)

	pm.psLock.Lock()
	peer, ok := pm.peers.Get(address)
	if !ok {
		pm.psLock.Unlock()
		return nil
	}
	pm.peers.Delete(address)
	pm.psLock.Unlock()
	pm.notifyDeleted(peer)
	pm.nodeCache.drop(address)

	if err := pm.c.PeerStore().DeletePeer(ctx, address); err != nil {
		return err
	}
	if err := pm.Disconnect(ctx, address); err != nil {
		return err
	}
	return pm.c.SessionManager().DeleteResumptionRecord(ctx, address)
}

// OnPeerAdded registers an observer fired after a peer has been added to the
// index. Observers may mutate the peer set re-entrantly. The returned
// function unregisters.
func (pm *PeerManager) OnPeerAdded(fn func(*components.OperationalPeer)) func() {
	return pm.registerObserver(pm.addedObservers, fn)
}

// OnPeerDeleted registers an observer fired after a peer has been removed
// from the index.
func (pm *PeerManager) OnPeerDeleted(fn func(*components.OperationalPeer)) func() {
	return pm.registerObserver(pm.deletedObservers, fn)
}

func (pm *PeerManager) registerObserver(observers map[int]func(*components.OperationalPeer), fn func(*components.OperationalPeer)) func() {
	pm.observerLock.Lock()
	defer pm.observerLock.Unlock()
	id := pm.nextObserver
	pm.nextObserver++
	observers[id] = fn
	return func() {
		pm.observerLock.Lock()
		defer pm.observerLock.Unlock()
		delete(observers, id)
	}
}

func (pm *PeerManager) notifyAdded(peer *components.OperationalPeer) {
	for _, fn := range pm.snapshotObservers(pm.addedObservers) {
		fn(peer)
	}
}

func (pm *PeerManager) notifyDeleted(peer *components.OperationalPeer) {
	for _, fn := range pm.snapshotObservers(pm.deletedObservers) {
		fn(peer)
	}
}

func (pm *PeerManager) snapshotObservers(observers map[int]func(*components.OperationalPeer)) []func(*components.OperationalPeer) {
	pm.observerLock.Lock()
	defer pm.observerLock.Unlock()
	fns := make([]func(*components.OperationalPeer), 0, len(observers))
	for _, fn := range observers {
		fns = append(fns, fn)
	}
	return fns
}

// rememberPeer records a successful discovery/pairing outcome in the index
// and, best-effort, in the store. Store failures here are retried briefly
// then logged - they must not fail an already-established connection.
func (pm *PeerManager) rememberPeer(ctx context.Context, address *mtrtypes.PeerAddress, operationalAddress *mtrtypes.ServerAddress, discoveryData *mtrtypes.DiscoveryData) {
	pm.psLock.Lock()
	peer, existing := pm.peers.Get(address)
	if !existing {
		peer = &components.OperationalPeer{Address: address}
		pm.peers.Set(address, peer)
	}
	peer.OperationalAddress = operationalAddress
	if discoveryData != nil {
		peer.DiscoveryData = discoveryData
	}
	pm.psLock.Unlock()
	if !existing {
		pm.notifyAdded(peer)
	}

	err := pm.storeRetry.Do(ctx, "update peer", func(attempt int) (retry bool, err error) {
		return attempt < 3, pm.c.PeerStore().UpdatePeer(ctx, peer)
	})
	if err != nil {
		log.L(ctx).Warnf("failed to persist operational address for %s: %s", address, err)
	}
}

// Close cancels every running discovery - stopping timers and telling the
// scanner to cancel without resolving waiters, so blocked callers observe
// their own abort paths - and closes the interaction queue.
func (pm *PeerManager) Close(ctx context.Context) error {
	pm.psLock.Lock()
	if pm.closed {
		pm.psLock.Unlock()
		return nil
	}
	pm.closed = true
	type cancelTarget struct {
		address *mtrtypes.PeerAddress
		rd      *runningDiscovery
	}
	var targets []cancelTarget
	pm.discoveries.Each(func(a *mtrtypes.PeerAddress, rd *runningDiscovery) bool {
		targets = append(targets, cancelTarget{address: a, rd: rd})
		return true
	})
	pm.psLock.Unlock()

	for _, t := range targets {
		t.rd.stopTimers()
		if fabric := pm.c.SessionManager().FabricFor(t.address); fabric != nil {
			pm.c.Scanner().CancelOperationalDeviceDiscovery(fabric, t.address.Node, false)
		}
	}

	pm.unregisterResubmission()
	pm.queue.Close()
	pm.cancelCtx()
	log.L(ctx).Infof("peer manager closed (%d discoveries cancelled)", len(targets))
	return nil
}
