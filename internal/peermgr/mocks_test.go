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
	"testing"
	"time"

	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/pkg/mtrconf"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	lock      sync.Mutex
	id        uint16
	secure    bool
	address   *mtrtypes.PeerAddress
	params    components.SessionParameters
	resumed   bool
	destroyed bool
}

func (s *fakeSession) ID() uint16                               { return s.id }
func (s *fakeSession) IsSecure() bool                           { return s.secure }
func (s *fakeSession) PeerAddress() *mtrtypes.PeerAddress       { return s.address }
func (s *fakeSession) Parameters() components.SessionParameters { return s.params }
func (s *fakeSession) CaseResumed() bool                        { return s.resumed }

func (s *fakeSession) Destroy(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.destroyed = true
	return nil
}

func (s *fakeSession) isDestroyed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.destroyed
}

type fakeSessionManager struct {
	lock              sync.Mutex
	nextID            uint16
	created           []*fakeSession
	fabrics           map[mtrtypes.FabricIndex]*components.Fabric
	resumption        map[*mtrtypes.PeerAddress]*components.ResumptionRecord
	removedSessions   []*mtrtypes.PeerAddress
	deletedResumption []*mtrtypes.PeerAddress
	nextHandler       int
	resubHandlers     map[int]func(components.Session)
}

func newFakeSessionManager() *fakeSessionManager {
	sm := &fakeSessionManager{
		fabrics:       map[mtrtypes.FabricIndex]*components.Fabric{},
		resumption:    map[*mtrtypes.PeerAddress]*components.ResumptionRecord{},
		resubHandlers: map[int]func(components.Session){},
	}
	for _, idx := range []mtrtypes.FabricIndex{1, 2, 3, 5} {
		sm.fabrics[idx] = &components.Fabric{
			Index:              idx,
			LocalNodeID:        1,
			CompressedFabricID: 0x1122334455667700 | uint64(idx),
		}
	}
	return sm
}

func (sm *fakeSessionManager) CreateInsecureSession(ctx context.Context, opts components.InsecureSessionOptions) (components.Session, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	sm.nextID++
	s := &fakeSession{id: sm.nextID}
	if opts.SessionParameters != nil {
		s.params = *opts.SessionParameters
	}
	sm.created = append(sm.created, s)
	return s, nil
}

func (sm *fakeSessionManager) FindResumptionRecord(address *mtrtypes.PeerAddress) *components.ResumptionRecord {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.resumption[mtrtypes.InternPtr(address)]
}

func (sm *fakeSessionManager) DeleteResumptionRecord(ctx context.Context, address *mtrtypes.PeerAddress) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	address = mtrtypes.InternPtr(address)
	delete(sm.resumption, address)
	sm.deletedResumption = append(sm.deletedResumption, address)
	return nil
}

func (sm *fakeSessionManager) RemoveAllSessionsForNode(ctx context.Context, address *mtrtypes.PeerAddress, sendClose bool) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	sm.removedSessions = append(sm.removedSessions, mtrtypes.InternPtr(address))
	return nil
}

func (sm *fakeSessionManager) FabricFor(address *mtrtypes.PeerAddress) *components.Fabric {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.fabrics[address.Fabric]
}

func (sm *fakeSessionManager) OnResubmissionStarted(fn func(components.Session)) func() {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	id := sm.nextHandler
	sm.nextHandler++
	sm.resubHandlers[id] = fn
	return func() {
		sm.lock.Lock()
		defer sm.lock.Unlock()
		delete(sm.resubHandlers, id)
	}
}

func (sm *fakeSessionManager) fireResubmission(session components.Session) {
	sm.lock.Lock()
	handlers := make([]func(components.Session), 0, len(sm.resubHandlers))
	for _, fn := range sm.resubHandlers {
		handlers = append(handlers, fn)
	}
	sm.lock.Unlock()
	for _, fn := range handlers {
		fn(session)
	}
}

func (sm *fakeSessionManager) removedSessionCount() int {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return len(sm.removedSessions)
}

func (sm *fakeSessionManager) createdCount() int {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return len(sm.created)
}

type fakeChannelManager struct {
	lock     sync.Mutex
	channels *mtrtypes.AddressMap[*components.MessageChannel]
	removals []*mtrtypes.PeerAddress
}

func newFakeChannelManager() *fakeChannelManager {
	return &fakeChannelManager{channels: mtrtypes.NewAddressMap[*components.MessageChannel]()}
}

func (cm *fakeChannelManager) GetChannel(ctx context.Context, address *mtrtypes.PeerAddress) (*components.MessageChannel, error) {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	if mc, ok := cm.channels.Get(address); ok {
		return mc, nil
	}
	return nil, components.NewNoChannelError(ctx, address)
}

func (cm *fakeChannelManager) HasChannel(address *mtrtypes.PeerAddress) bool {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	_, ok := cm.channels.Get(address)
	return ok
}

func (cm *fakeChannelManager) SetChannel(ctx context.Context, address *mtrtypes.PeerAddress, channel *components.MessageChannel) error {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	cm.channels.Set(address, channel)
	return nil
}

func (cm *fakeChannelManager) RemoveAllNodeChannels(ctx context.Context, address *mtrtypes.PeerAddress) error {
	cm.lock.Lock()
	defer cm.lock.Unlock()
	cm.channels.Delete(address)
	cm.removals = append(cm.removals, mtrtypes.InternPtr(address))
	return nil
}

type fakeExchange struct {
	lock   sync.Mutex
	id     uint16
	closed bool
}

func (e *fakeExchange) ID() uint16 { return e.id }

func (e *fakeExchange) Close(ctx context.Context) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.closed = true
	return nil
}

func (e *fakeExchange) isClosed() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.closed
}

type initiatedExchange struct {
	exchange *fakeExchange
	protocol uint16
}

type fakeExchangeManager struct {
	lock      sync.Mutex
	nextID    uint16
	initiated []initiatedExchange
	// nextErrs are consumed one per InitiateExchangeWithChannel call
	nextErrs []error
}

func (em *fakeExchangeManager) InitiateExchangeWithChannel(ctx context.Context, channel *components.MessageChannel, protocolID uint16) (components.Exchange, error) {
	em.lock.Lock()
	defer em.lock.Unlock()
	if len(em.nextErrs) > 0 {
		err := em.nextErrs[0]
		em.nextErrs = em.nextErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	em.nextID++
	e := &fakeExchange{id: em.nextID}
	em.initiated = append(em.initiated, initiatedExchange{exchange: e, protocol: protocolID})
	return e, nil
}

func (em *fakeExchangeManager) initiatedForProtocol(protocol uint16) []initiatedExchange {
	em.lock.Lock()
	defer em.lock.Unlock()
	var matched []initiatedExchange
	for _, ie := range em.initiated {
		if ie.protocol == protocol {
			matched = append(matched, ie)
		}
	}
	return matched
}

type findCall struct {
	node        mtrtypes.NodeID
	timeout     time.Duration
	ignoreCache bool
}

type cancelCall struct {
	node           mtrtypes.NodeID
	resolveWaiters bool
}

type fakeScanner struct {
	lock      sync.Mutex
	find      func(ctx context.Context, fabric *components.Fabric, node mtrtypes.NodeID, timeout time.Duration, ignoreCache bool) (*components.DiscoveredDevice, error)
	findCalls []findCall
	cached    map[mtrtypes.NodeID]*components.DiscoveredDevice
	cancels   []cancelCall
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{cached: map[mtrtypes.NodeID]*components.DiscoveredDevice{}}
}

func (s *fakeScanner) FindOperationalDevice(ctx context.Context, fabric *components.Fabric, node mtrtypes.NodeID, timeout time.Duration, ignoreCache bool) (*components.DiscoveredDevice, error) {
	s.lock.Lock()
	s.findCalls = append(s.findCalls, findCall{node: node, timeout: timeout, ignoreCache: ignoreCache})
	fn := s.find
	s.lock.Unlock()
	if fn != nil {
		return fn(ctx, fabric, node, timeout, ignoreCache)
	}
	return nil, nil
}

func (s *fakeScanner) GetDiscoveredOperationalDevice(fabric *components.Fabric, node mtrtypes.NodeID) *components.DiscoveredDevice {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cached[node]
}

func (s *fakeScanner) CancelOperationalDeviceDiscovery(fabric *components.Fabric, node mtrtypes.NodeID, resolveWaiters bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cancels = append(s.cancels, cancelCall{node: node, resolveWaiters: resolveWaiters})
}

func (s *fakeScanner) findCallCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.findCalls)
}

func (s *fakeScanner) cancelCalls() []cancelCall {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]cancelCall{}, s.cancels...)
}

type fakeChannel struct {
	lock   sync.Mutex
	remote *mtrtypes.ServerAddress
	closed bool
}

func (c *fakeChannel) Name() string                           { return "udp:" + c.remote.String() }
func (c *fakeChannel) RemoteAddress() *mtrtypes.ServerAddress { return c.remote }

func (c *fakeChannel) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	return nil
}

type fakeInterface struct {
	lock      sync.Mutex
	open      func(ctx context.Context, sa *mtrtypes.ServerAddress) (components.TransportChannel, error)
	openCalls []*mtrtypes.ServerAddress
}

func (f *fakeInterface) OpenChannel(ctx context.Context, sa *mtrtypes.ServerAddress) (components.TransportChannel, error) {
	f.lock.Lock()
	f.openCalls = append(f.openCalls, sa)
	fn := f.open
	f.lock.Unlock()
	if fn != nil {
		return fn(ctx, sa)
	}
	return &fakeChannel{remote: sa}, nil
}

func (f *fakeInterface) openCallCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.openCalls)
}

type fakeNetInterfaces struct {
	v6 *fakeInterface
	v4 *fakeInterface
}

func (n *fakeNetInterfaces) InterfaceFor(channelType mtrtypes.ChannelType, bindAddress string) components.NetInterface {
	if channelType != mtrtypes.ChannelTypeUDP {
		return nil
	}
	var f *fakeInterface
	if bindAddress == "::" {
		f = n.v6
	} else {
		f = n.v4
	}
	if f == nil {
		return nil
	}
	return f
}

type fakeCASEClient struct {
	lock   sync.Mutex
	calls  int
	nextID uint16
	pair   func(ctx context.Context, exchange components.Exchange, unsecure components.Session, address *mtrtypes.PeerAddress) (components.SecureSession, bool, error)
}

func (cc *fakeCASEClient) Pair(ctx context.Context, exchange components.Exchange, unsecure components.Session, address *mtrtypes.PeerAddress) (components.SecureSession, bool, error) {
	cc.lock.Lock()
	cc.calls++
	cc.nextID++
	id := cc.nextID
	fn := cc.pair
	cc.lock.Unlock()
	if fn != nil {
		return fn(ctx, exchange, unsecure, address)
	}
	return &fakeSession{id: 1000 + id, secure: true, address: address}, false, nil
}

func (cc *fakeCASEClient) callCount() int {
	cc.lock.Lock()
	defer cc.lock.Unlock()
	return cc.calls
}

type fakeStore struct {
	lock    sync.Mutex
	seeded  []*components.OperationalPeer
	updates []*components.OperationalPeer
	deletes []*mtrtypes.PeerAddress
	loadErr error
}

func (st *fakeStore) LoadPeers(ctx context.Context) ([]*components.OperationalPeer, error) {
	st.lock.Lock()
	defer st.lock.Unlock()
	if st.loadErr != nil {
		return nil, st.loadErr
	}
	return append([]*components.OperationalPeer{}, st.seeded...), nil
}

func (st *fakeStore) UpdatePeer(ctx context.Context, peer *components.OperationalPeer) error {
	st.lock.Lock()
	defer st.lock.Unlock()
	st.updates = append(st.updates, peer)
	return nil
}

func (st *fakeStore) DeletePeer(ctx context.Context, address *mtrtypes.PeerAddress) error {
	st.lock.Lock()
	defer st.lock.Unlock()
	st.deletes = append(st.deletes, mtrtypes.InternPtr(address))
	return nil
}

func (st *fakeStore) updateCount() int {
	st.lock.Lock()
	defer st.lock.Unlock()
	return len(st.updates)
}

type testComponents struct {
	sessionMgr  *fakeSessionManager
	channelMgr  *fakeChannelManager
	exchangeMgr *fakeExchangeManager
	scanner     *fakeScanner
	interfaces  *fakeNetInterfaces
	store       *fakeStore
	caseClient  *fakeCASEClient
}

func newTestComponents() *testComponents {
	return &testComponents{
		sessionMgr:  newFakeSessionManager(),
		channelMgr:  newFakeChannelManager(),
		exchangeMgr: &fakeExchangeManager{},
		scanner:     newFakeScanner(),
		interfaces:  &fakeNetInterfaces{v6: &fakeInterface{}, v4: &fakeInterface{}},
		store:       &fakeStore{},
		caseClient:  &fakeCASEClient{},
	}
}

func (tc *testComponents) SessionManager() components.SessionManager   { return tc.sessionMgr }
func (tc *testComponents) ChannelManager() components.ChannelManager   { return tc.channelMgr }
func (tc *testComponents) ExchangeManager() components.ExchangeManager { return tc.exchangeMgr }
func (tc *testComponents) Scanner() components.OperationalScanner      { return tc.scanner }
func (tc *testComponents) NetInterfaces() components.NetInterfaceSet   { return tc.interfaces }
func (tc *testComponents) PeerStore() components.PeerStore             { return tc.store }
func (tc *testComponents) CASEClient() components.CASEClient           { return tc.caseClient }

func fastTestConfig() *mtrconf.PeerManagerConfig {
	return &mtrconf.PeerManagerConfig{
		Discovery: mtrconf.DiscoveryConfig{
			CachedAddressPollInterval: mtrconf.StrP("25ms"),
			RetransmissionWindow:      mtrconf.StrP("50ms"),
			ReconnectProcessingTime:   mtrconf.StrP("2s"),
		},
		Queue: mtrconf.InteractionQueueConfig{
			Concurrency:    mtrconf.IntP(4),
			AdmissionDelay: mtrconf.StrP("1ms"),
		},
	}
}

func newTestPeerManager(t *testing.T, setup ...func(tc *testComponents)) (context.Context, *PeerManager, *testComponents) {
	logrus.SetLevel(logrus.TraceLevel)
	ctx := context.Background()
	tc := newTestComponents()
	for _, fn := range setup {
		fn(tc)
	}
	pm := NewPeerManager(ctx, fastTestConfig(), tc)
	_, err := pm.Construction().Await(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close(ctx) })
	return ctx, pm, tc
}

func (pm *PeerManager) discoveryCount() int {
	pm.psLock.Lock()
	defer pm.psLock.Unlock()
	return pm.discoveries.Len()
}

func testAddress(fabric mtrtypes.FabricIndex, node mtrtypes.NodeID) *mtrtypes.PeerAddress {
	return mtrtypes.Intern(mtrtypes.PeerAddress{Fabric: fabric, Node: node})
}

func seededPeer(address *mtrtypes.PeerAddress, ip string) *components.OperationalPeer {
	return &components.OperationalPeer{
		Address: address,
		OperationalAddress: &mtrtypes.ServerAddress{
			Type: mtrtypes.ChannelTypeUDP,
			IP:   ip,
			Port: 5540,
		},
	}
}
