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
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// FabricIndex identifies a fabric on the local node. Valid operational values
// are 1..254; 0 means "no fabric".
type FabricIndex uint8

// NodeID is the 64-bit operational node identifier within a fabric.
type NodeID uint64

// PeerAddress is the logical address of an operational peer. All code that
// stores or compares peer addresses must go through Intern, so that two
// structurally equal addresses are the same pointer.
type PeerAddress struct {
	Fabric FabricIndex
	Node   NodeID

	canonical bool
}

// String renders the stable form used in logs and in the persisted store.
// Node ids above 0xFFFF are rendered in hex, small ones in decimal.
func (pa *PeerAddress) String() string {
	if pa.Node > 0xFFFF {
		return fmt.Sprintf("peer@%d:0x%x", pa.Fabric, uint64(pa.Node))
	}
	return fmt.Sprintf("peer@%d:%d", pa.Fabric, uint64(pa.Node))
}

// Equals compares by value, regardless of canonicalization.
func (pa *PeerAddress) Equals(other *PeerAddress) bool {
	return other != nil && pa.Fabric == other.Fabric && pa.Node == other.Node
}

var (
	internLock  sync.RWMutex
	internTable = map[FabricIndex]map[NodeID]*PeerAddress{}
)

// Intern returns the canonical representative for the supplied address.
// Idempotent: interning a canonical address returns it unchanged.
//
// The table is never evicted - fabric indices are bounded at 254 and node ids
// are few per controller, so entries (two words each) are retained even after
// a fabric is removed.
func Intern(a PeerAddress) *PeerAddress {
	internLock.RLock()
	byNode := internTable[a.Fabric]
	if byNode != nil {
		if existing := byNode[a.Node]; existing != nil {
			internLock.RUnlock()
			return existing
		}
	}
	internLock.RUnlock()

	internLock.Lock()
	defer internLock.Unlock()
	byNode = internTable[a.Fabric]
	if byNode == nil {
		byNode = map[NodeID]*PeerAddress{}
		internTable[a.Fabric] = byNode
	}
	if existing := byNode[a.Node]; existing != nil {
		return existing
	}
	canonical := &PeerAddress{Fabric: a.Fabric, Node: a.Node, canonical: true}
	byNode[a.Node] = canonical
	return canonical
}

// InternPtr is a convenience for callers holding a (possibly non-canonical)
// pointer. Nil passes through as nil.
func InternPtr(a *PeerAddress) *PeerAddress {
	if a == nil {
		return nil
	}
	if a.canonical {
		return a
	}
	return Intern(*a)
}

// ParsePeerAddress parses the String() form back to an address. Used by the
// peer store to key rows.
func ParsePeerAddress(s string) (*PeerAddress, error) {
	rest, ok := strings.CutPrefix(s, "peer@")
	if !ok {
		return nil, fmt.Errorf("invalid peer address '%s'", s)
	}
	fabricStr, nodeStr, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, fmt.Errorf("invalid peer address '%s'", s)
	}
	fabric, err := strconv.ParseUint(fabricStr, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid fabric index in '%s': %s", s, err)
	}
	var node uint64
	if hexStr, isHex := strings.CutPrefix(nodeStr, "0x"); isHex {
		node, err = strconv.ParseUint(hexStr, 16, 64)
	} else {
		node, err = strconv.ParseUint(nodeStr, 10, 64)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid node id in '%s': %s", s, err)
	}
	return Intern(PeerAddress{Fabric: FabricIndex(fabric), Node: NodeID(node)}), nil
}
