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

// TransportChannel is an open datagram path to one remote endpoint, as handed
// out by a NetInterface.
type TransportChannel interface {
	Name() string
	RemoteAddress() *mtrtypes.ServerAddress
	Close() error
}

// MessageChannel binds a transport channel to the session securing it. During
// pairing the session is the unsecure initiator session; registered channels
// always carry a secure one.
type MessageChannel struct {
	Channel TransportChannel
	Session Session
}

// ChannelManager is the per-fabric-context registry of live peer channels.
type ChannelManager interface {
	// GetChannel returns a NoChannelError when no channel is registered.
	GetChannel(ctx context.Context, address *mtrtypes.PeerAddress) (*MessageChannel, error)
	HasChannel(address *mtrtypes.PeerAddress) bool
	SetChannel(ctx context.Context, address *mtrtypes.PeerAddress, channel *MessageChannel) error
	RemoveAllNodeChannels(ctx context.Context, address *mtrtypes.PeerAddress) error
}

// Exchange is one protocol conversation over a channel.
type Exchange interface {
	ID() uint16
	Close(ctx context.Context) error
}

// ExchangeManager opens exchanges over message channels.
type ExchangeManager interface {
	InitiateExchangeWithChannel(ctx context.Context, channel *MessageChannel, protocolID uint16) (Exchange, error)
}

// NetInterface is a pre-opened local transport endpoint able to open channels
// to remote addresses of its family.
type NetInterface interface {
	OpenChannel(ctx context.Context, address *mtrtypes.ServerAddress) (TransportChannel, error)
}

// NetInterfaceSet resolves the interface for a channel type and local bind
// address ("::" or "0.0.0.0" for UDP). Returns nil when the platform did not
// open one.
type NetInterfaceSet interface {
	InterfaceFor(channelType mtrtypes.ChannelType, bindAddress string) NetInterface
}
