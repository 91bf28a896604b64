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

	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// interactionClient is the caller-facing handle bound to one peer. It routes
// interactions through the bounded queue and re-establishes the channel on
// loss via the reconnect path.
type interactionClient struct {
	pm      *PeerManager
	address *mtrtypes.PeerAddress
}

func (pm *PeerManager) newInteractionClient(address *mtrtypes.PeerAddress) components.InteractionClient {
	return &interactionClient{pm: pm, address: address}
}

func (ic *interactionClient) Address() *mtrtypes.PeerAddress {
	return ic.address
}

func (ic *interactionClient) Channel(ctx context.Context) (*components.MessageChannel, error) {
	mc, err := ic.pm.c.ChannelManager().GetChannel(ctx, ic.address)
	if err == nil {
		return mc, nil
	}
	if !components.IsNoChannel(err) {
		return nil, err
	}
	return ic.pm.reconnectChannel(ctx, ic.address)
}

// Interact admits one interaction through the queue and runs it over a fresh
// exchange on the interaction protocol. A transport timeout on the first
// attempt triggers one reconnect before the failure surfaces.
func (ic *interactionClient) Interact(ctx context.Context, fn components.InteractionFunc) error {
	if err := ic.pm.queue.Acquire(ctx); err != nil {
		return err
	}
	defer ic.pm.queue.Release()

	exchange, err := ic.initiateExchange(ctx)
	if components.IsNoResponseTimeout(err) {
		if _, err = ic.pm.reconnectChannel(ctx, ic.address); err != nil {
			return err
		}
		exchange, err = ic.initiateExchange(ctx)
	}
	if err != nil {
		return err
	}

	fnErr := fn(ctx, exchange)
	if closeErr := exchange.Close(ctx); closeErr != nil && fnErr == nil {
		fnErr = closeErr
	}
	return fnErr
}

func (ic *interactionClient) initiateExchange(ctx context.Context) (components.Exchange, error) {
	mc, err := ic.Channel(ctx)
	if err != nil {
		return nil, err
	}
	return ic.pm.c.ExchangeManager().InitiateExchangeWithChannel(ctx, mc, components.InteractionProtocolID)
}

// reconnectChannel is the reconnection closure carried by every interaction
// client: if no channel is registered at all the caller failed before we
// ever connected, so fail fast; otherwise wipe the stale channels, attempt
// one rediscover against the known operational address, and remove all peer
// sessions (informing upper layers) if that does not produce a channel.
func (pm *PeerManager) reconnectChannel(ctx context.Context, address *mtrtypes.PeerAddress) (*components.MessageChannel, error) {
	cm := pm.c.ChannelManager()
	if !cm.HasChannel(address) {
		return nil, newRetransmissionLimitError(ctx, address)
	}
	if err := cm.RemoveAllNodeChannels(ctx, address); err != nil {
		return nil, err
	}

	knownAddress := pm.KnownOperationalAddressFor(address)
	if knownAddress == nil {
		log.L(ctx).Debugf("reconnect for %s has no operational address on file", address)
		return nil, pm.failResume(ctx, address)
	}
	mc, err := pm.pair(ctx, address, knownAddress, pm.discoveryDataFor(address), pm.reconnectHint)
	if err != nil {
		log.L(ctx).Debugf("reconnect pairing for %s failed: %s", address, err)
		return nil, pm.failResume(ctx, address)
	}
	return mc, nil
}

// failResume tears down all sessions for the peer so upper layers learn the
// resume failed, then reports retransmission exhaustion.
func (pm *PeerManager) failResume(ctx context.Context, address *mtrtypes.PeerAddress) error {
	if err := pm.c.SessionManager().RemoveAllSessionsForNode(ctx, address, false); err != nil {
		log.L(ctx).Warnf("failed to remove sessions for %s on resume failure: %s", address, err)
	}
	return newRetransmissionLimitError(ctx, address)
}
