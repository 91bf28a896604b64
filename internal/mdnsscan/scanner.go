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

package mdnsscan

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/internal/msgs"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
	"github.com/miekg/dns"
)

const (
	operationalService = "_matter._tcp.local."
	matterPortDefault  = 5540

	mdnsIPv4Group = "224.0.0.251:5353"
	queryInterval = 1 * time.Second
)

// Scanner is a one-shot multicast DNS querier implementing operational
// DNS-SD discovery of commissioned Matter nodes. The instance name queried
// is <compressed-fabric-id>-<node-id>, both as 16 hex digits.
type Scanner struct {
	bgCtx     context.Context
	cancelCtx context.CancelFunc
	conn      *net.UDPConn
	group     *net.UDPAddr

	lock    sync.Mutex
	cache   map[string]*components.DiscoveredDevice
	waiters map[string][]*waiter
	closed  bool
}

type waiter struct {
	resolved chan *components.DiscoveredDevice
	aborted  chan struct{}
}

func NewScanner(bgCtx context.Context) (*Scanner, error) {
	group, err := net.ResolveUDPAddr("udp4", mdnsIPv4Group)
	if err == nil {
		var conn *net.UDPConn
		// One-shot querier: query from an ephemeral port, listen there for
		// the unicast-or-multicast responses
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
		if err == nil {
			s := &Scanner{
				conn:    conn,
				group:   group,
				cache:   map[string]*components.DiscoveredDevice{},
				waiters: map[string][]*waiter{},
			}
			s.bgCtx, s.cancelCtx = context.WithCancel(log.WithLogField(bgCtx, "mgr", "mdns"))
			go s.readLoop()
			return s, nil
		}
	}
	return nil, i18n.NewError(bgCtx, msgs.MsgScanInterfaceUnavailable, err)
}

func instanceName(fabric *components.Fabric, node mtrtypes.NodeID) string {
	return fmt.Sprintf("%016X-%016X", fabric.CompressedFabricID, uint64(node))
}

func (s *Scanner) FindOperationalDevice(ctx context.Context, fabric *components.Fabric, node mtrtypes.NodeID, timeout time.Duration, ignoreCache bool) (*components.DiscoveredDevice, error) {
	instance := instanceName(fabric, node)

	s.lock.Lock()
	if !ignoreCache {
		if dev := s.cache[instance]; dev != nil {
			s.lock.Unlock()
			return dev, nil
		}
	}
	w := &waiter{
		resolved: make(chan *components.DiscoveredDevice, 1),
		aborted:  make(chan struct{}),
	}
	s.waiters[instance] = append(s.waiters[instance], w)
	s.lock.Unlock()
	defer s.removeWaiter(instance, w)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(queryInterval)
	defer ticker.Stop()

	s.sendQuery(ctx, instance)
	for {
		select {
		case dev := <-w.resolved:
			return dev, nil
		case <-w.aborted:
			return nil, context.Canceled
		case <-deadline:
			return nil, i18n.NewError(ctx, msgs.MsgScanTimedOut, instance, timeout.Milliseconds())
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.bgCtx.Done():
			return nil, s.bgCtx.Err()
		case <-ticker.C:
			s.sendQuery(ctx, instance)
		}
	}
}

func (s *Scanner) GetDiscoveredOperationalDevice(fabric *components.Fabric, node mtrtypes.NodeID) *components.DiscoveredDevice {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cache[instanceName(fabric, node)]
}

// CancelOperationalDeviceDiscovery stops in-flight finds for the node. With
// resolveWaiters the current cache state (possibly nil) is delivered;
// without it the waiters observe a cancellation.
func (s *Scanner) CancelOperationalDeviceDiscovery(fabric *components.Fabric, node mtrtypes.NodeID, resolveWaiters bool) {
	instance := instanceName(fabric, node)
	s.lock.Lock()
	waiters := s.waiters[instance]
	delete(s.waiters, instance)
	cached := s.cache[instance]
	s.lock.Unlock()
	for _, w := range waiters {
		if resolveWaiters {
			w.resolved <- cached
		} else {
			close(w.aborted)
		}
	}
}

func (s *Scanner) Close() {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.closed = true
	s.lock.Unlock()
	s.cancelCtx()
	_ = s.conn.Close()
}

func (s *Scanner) removeWaiter(instance string, w *waiter) {
	s.lock.Lock()
	defer s.lock.Unlock()
	waiters := s.waiters[instance]
	for i, other := range waiters {
		if other == w {
			s.waiters[instance] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

func (s *Scanner) sendQuery(ctx context.Context, instance string) {
	fqdn := dns.Fqdn(instance + "." + operationalService)
	msg := new(dns.Msg)
	msg.Question = []dns.Question{
		{Name: fqdn, Qtype: dns.TypeSRV, Qclass: dns.ClassINET},
		{Name: fqdn, Qtype: dns.TypeTXT, Qclass: dns.ClassINET},
	}
	packed, err := msg.Pack()
	if err == nil {
		_, err = s.conn.WriteToUDP(packed, s.group)
	}
	if err != nil {
		log.L(ctx).Debugf("mDNS query for %s failed: %s", fqdn, err)
	}
}

func (s *Scanner) readLoop() {
	buf := make([]byte, 9000)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.bgCtx.Err() == nil {
				log.L(s.bgCtx).Debugf("mDNS read failed: %s", err)
			}
			return
		}
		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			log.L(s.bgCtx).Tracef("discarding unparseable mDNS packet: %s", err)
			continue
		}
		s.handleResponse(msg)
	}
}

// handleResponse harvests SRV/TXT/A/AAAA records belonging to operational
// instances, caches the assembled device, and releases matching waiters.
func (s *Scanner) handleResponse(msg *dns.Msg) {
	records := append(append([]dns.RR{}, msg.Answer...), msg.Extra...)

	type pending struct {
		target string
		port   uint16
		data   *mtrtypes.DiscoveryData
	}
	byInstance := map[string]*pending{}
	hostIPs := map[string][]string{}

	for _, rr := range records {
		switch v := rr.(type) {
		case *dns.SRV:
			instance, ok := operationalInstance(v.Hdr.Name)
			if !ok {
				continue
			}
			p := byInstance[instance]
			if p == nil {
				p = &pending{}
				byInstance[instance] = p
			}
			p.target = v.Target
			p.port = v.Port
		case *dns.TXT:
			instance, ok := operationalInstance(v.Hdr.Name)
			if !ok {
				continue
			}
			p := byInstance[instance]
			if p == nil {
				p = &pending{}
				byInstance[instance] = p
			}
			p.data = parseTXT(v.Txt)
		case *dns.AAAA:
			hostIPs[v.Hdr.Name] = append(hostIPs[v.Hdr.Name], v.AAAA.String())
		case *dns.A:
			hostIPs[v.Hdr.Name] = append(hostIPs[v.Hdr.Name], v.A.String())
		}
	}

	for instance, p := range byInstance {
		if p.target == "" {
			continue
		}
		port := p.port
		if port == 0 {
			port = matterPortDefault
		}
		var addresses []mtrtypes.ServerAddress
		for _, ip := range hostIPs[p.target] {
			addresses = append(addresses, mtrtypes.ServerAddress{
				Type: mtrtypes.ChannelTypeUDP,
				IP:   ip,
				Port: port,
			})
		}
		if len(addresses) == 0 {
			continue
		}
		dev := &components.DiscoveredDevice{
			Addresses:     addresses,
			DiscoveryData: p.data,
		}
		s.lock.Lock()
		s.cache[instance] = dev
		waiters := s.waiters[instance]
		delete(s.waiters, instance)
		s.lock.Unlock()
		log.L(s.bgCtx).Debugf("discovered operational instance %s at %d address(es)", instance, len(addresses))
		for _, w := range waiters {
			w.resolved <- dev
		}
	}
}

// operationalInstance extracts the <fabric>-<node> instance label from a
// record name under the operational service, reporting false for anything
// else.
func operationalInstance(name string) (string, bool) {
	rest, ok := strings.CutSuffix(name, "."+operationalService)
	if !ok || strings.Contains(rest, ".") {
		return "", false
	}
	fabricHex, nodeHex, ok := strings.Cut(rest, "-")
	if !ok || len(fabricHex) != 16 || len(nodeHex) != 16 {
		return "", false
	}
	return rest, true
}

func parseTXT(txt []string) *mtrtypes.DiscoveryData {
	data := &mtrtypes.DiscoveryData{}
	found := false
	for _, kv := range txt {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "SII", "SAI", "SAT":
			ms, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				continue
			}
			v := uint32(ms)
			found = true
			switch strings.ToUpper(key) {
			case "SII":
				data.SessionIdleInterval = &v
			case "SAI":
				data.SessionActiveInterval = &v
			case "SAT":
				data.SessionActiveThreshold = &v
			}
		default:
			if data.Extra == nil {
				data.Extra = map[string]string{}
			}
			data.Extra[key] = value
			found = true
		}
	}
	if !found {
		return nil
	}
	return data
}
