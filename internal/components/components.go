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

	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// Matter protocol constants passed through to external collaborators.
const (
	SecureChannelProtocolID uint16 = 0x0000
	InteractionProtocolID   uint16 = 0x0001

	// MatterBLEServiceUUID is the 16-bit GATT service UUID used for BLE
	// commissioning discovery. Opaque to this core.
	MatterBLEServiceUUID uint16 = 0xFFF6
)

// AllComponents is the context record of stable references handed to every
// manager at construction. The session, channel, exchange and peer managers
// reference each other cyclically at runtime; none of them own the others.
type AllComponents interface {
	SessionManager() SessionManager
	ChannelManager() ChannelManager
	ExchangeManager() ExchangeManager
	Scanner() OperationalScanner
	NetInterfaces() NetInterfaceSet
	PeerStore() PeerStore
	CASEClient() CASEClient
}

// Fabric is the slice of fabric state this core consumes: enough to key
// operational discovery and render peer identities.
type Fabric struct {
	Index              mtrtypes.FabricIndex
	LocalNodeID        mtrtypes.NodeID
	CompressedFabricID uint64
}

// OperationalPeer is one known peer: its logical address plus whatever we
// learned about reaching it. Mutated only by the peer manager.
type OperationalPeer struct {
	Address            *mtrtypes.PeerAddress
	OperationalAddress *mtrtypes.ServerAddress
	DiscoveryData      *mtrtypes.DiscoveryData
}

// PeerStore is the durable persistence consumed for known peers. Failures on
// the discovery-result write path are non-fatal to running connections;
// explicit mutations propagate errors to the caller.
type PeerStore interface {
	LoadPeers(ctx context.Context) ([]*OperationalPeer, error)
	UpdatePeer(ctx context.Context, peer *OperationalPeer) error
	DeletePeer(ctx context.Context, address *mtrtypes.PeerAddress) error
}

// InteractionFunc is one interaction executed over an exchange obtained from
// a live channel.
type InteractionFunc func(ctx context.Context, exchange Exchange) error

// InteractionClient is the caller-facing handle returned by a successful
// connect. Interactions are admitted through the bounded interaction queue,
// and the underlying channel is transparently re-established on loss.
type InteractionClient interface {
	Address() *mtrtypes.PeerAddress

	// Channel returns the channel currently registered for the peer. When no
	// channel is registered it fails fast with a retransmission-limit error;
	// it does not re-pair.
	Channel(ctx context.Context) (*MessageChannel, error)

	// Interact runs fn over a fresh exchange on the interaction protocol.
	Interact(ctx context.Context, fn InteractionFunc) error
}
