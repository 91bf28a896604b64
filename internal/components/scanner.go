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

package components

import (
	"context"
	"time"

	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// DiscoveredDevice is the result of operational discovery for one node.
type DiscoveredDevice struct {
	Addresses     []mtrtypes.ServerAddress
	DiscoveryData *mtrtypes.DiscoveryData
}

// OperationalScanner is the mDNS (DNS-SD) scanner consumed for operational
// discovery.
type OperationalScanner interface {
	// FindOperationalDevice blocks until the device is discovered or the
	// timeout elapses. ignoreCache forces a fresh network query.
	FindOperationalDevice(ctx context.Context, fabric *Fabric, node mtrtypes.NodeID, timeout time.Duration, ignoreCache bool) (*DiscoveredDevice, error)

	// GetDiscoveredOperationalDevice returns the cached discovery result, or
	// nil if the device has not been seen.
	GetDiscoveredOperationalDevice(fabric *Fabric, node mtrtypes.NodeID) *DiscoveredDevice

	// CancelOperationalDeviceDiscovery stops an in-flight discovery for the
	// node. resolveWaiters releases blocked FindOperationalDevice callers
	// with the current result; without it they observe their own abort paths.
	CancelOperationalDeviceDiscovery(fabric *Fabric, node mtrtypes.NodeID, resolveWaiters bool)
}
