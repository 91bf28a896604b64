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
	"fmt"
	"sync"

	"github.com/kaleido-io/matternode/internal/cache"
	"github.com/kaleido-io/matternode/pkg/mtrconf"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// CachedAttributeValue is one attribute read retained across reconnects.
type CachedAttributeValue struct {
	EndpointID  uint16
	ClusterID   uint32
	AttributeID uint32
	Name        string
	Value       any
}

// CachedClusterVersion is the last seen data version of one cluster instance.
type CachedClusterVersion struct {
	EndpointID  uint16
	ClusterID   uint32
	DataVersion uint32
}

// nodeCachedData is the per-peer interaction cache. It survives reconnects to
// the same live device; it is dropped whenever a CASE establishment was not a
// resumption, because the device state is then unknown (reboot or upgrade).
type nodeCachedData struct {
	lock                sync.Mutex
	attributeValues     map[string]*CachedAttributeValue
	clusterDataVersions map[string]*CachedClusterVersion
	maxEventNumber      *uint64
}

type nodeDataCache struct {
	lock  sync.Mutex
	cache cache.Cache[*mtrtypes.PeerAddress, *nodeCachedData]
}

func newNodeDataCache(conf *mtrconf.NodeCacheConfig) *nodeDataCache {
	return &nodeDataCache{
		cache: cache.NewCache[*mtrtypes.PeerAddress, *nodeCachedData](conf, &mtrconf.PeerManagerDefaults.NodeCache),
	}
}

func (nc *nodeDataCache) forPeer(address *mtrtypes.PeerAddress) *nodeCachedData {
	address = mtrtypes.InternPtr(address)
	nc.lock.Lock()
	defer nc.lock.Unlock()
	data, ok := nc.cache.Get(address)
	if !ok {
		data = &nodeCachedData{
			attributeValues:     map[string]*CachedAttributeValue{},
			clusterDataVersions: map[string]*CachedClusterVersion{},
		}
		nc.cache.Set(address, data)
	}
	return data
}

// drop discards everything cached for the peer. Called before any read can
// return data from a session that was not resumed.
func (nc *nodeDataCache) drop(address *mtrtypes.PeerAddress) {
	nc.lock.Lock()
	defer nc.lock.Unlock()
	nc.cache.Delete(mtrtypes.InternPtr(address))
}

func attributeKey(endpoint uint16, cluster, attribute uint32) string {
	return fmt.Sprintf("%d/%d/%d", endpoint, cluster, attribute)
}

func clusterKey(endpoint uint16, cluster uint32) string {
	return fmt.Sprintf("%d/%d", endpoint, cluster)
}

func (d *nodeCachedData) SetAttributeValue(v *CachedAttributeValue) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.attributeValues[attributeKey(v.EndpointID, v.ClusterID, v.AttributeID)] = v
}

func (d *nodeCachedData) AttributeValue(endpoint uint16, cluster, attribute uint32) *CachedAttributeValue {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.attributeValues[attributeKey(endpoint, cluster, attribute)]
}

func (d *nodeCachedData) SetClusterDataVersion(v *CachedClusterVersion) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.clusterDataVersions[clusterKey(v.EndpointID, v.ClusterID)] = v
}

func (d *nodeCachedData) ClusterDataVersion(endpoint uint16, cluster uint32) *CachedClusterVersion {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.clusterDataVersions[clusterKey(endpoint, cluster)]
}

func (d *nodeCachedData) SetMaxEventNumber(n uint64) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.maxEventNumber = &n
}

func (d *nodeCachedData) MaxEventNumber() (uint64, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.maxEventNumber == nil {
		return 0, false
	}
	return *d.maxEventNumber, true
}
