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
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/internal/msgs"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// pair runs one CASE establishment against a concrete operational address
// and registers the resulting secure channel. Scoped resources (transport
// channel, unsecure session, exchange) are released on every failure path;
// on success the unsecure session is destroyed before the channel is
// registered.
func (pm *PeerManager) pair(ctx context.Context, address *mtrtypes.PeerAddress, serverAddress *mtrtypes.ServerAddress, discoveryData *mtrtypes.DiscoveryData, expectedProcessingTime time.Duration) (mc *components.MessageChannel, err error) {
	bind := serverAddress.BindAddress()
	iface := pm.c.NetInterfaces().InterfaceFor(mtrtypes.ChannelTypeUDP, bind)
	if iface == nil {
		return nil, &PairRetransmissionLimitReachedError{
			error: i18n.NewError(ctx, msgs.MsgPairNoInterfaceForFamily, bind, address),
		}
	}

	log.L(ctx).Debugf("pairing %s via %s (expectedProcessing=%s)", address, serverAddress, expectedProcessingTime)
	channel, err := iface.OpenChannel(ctx, serverAddress)
	if err != nil {
		return nil, convertNoResponseTimeout(ctx, address, err)
	}
	success := false
	defer func() {
		if !success {
			_ = channel.Close()
		}
	}()

	unsecure, err := pm.c.SessionManager().CreateInsecureSession(ctx, components.InsecureSessionOptions{
		SessionParameters: pm.initialSessionParameters(address, discoveryData),
		IsInitiator:       true,
	})
	if err != nil {
		return nil, err
	}
	destroyUnsecure := func() {
		if destroyErr := unsecure.Destroy(ctx); destroyErr != nil {
			log.L(ctx).Warnf("failed to destroy unsecure session %d: %s", unsecure.ID(), destroyErr)
		}
	}
	defer func() {
		// The unsecure session is scoped to the establishment on every
		// failure path; the success path destroys it before registration
		if !success {
			destroyUnsecure()
		}
	}()

	exchange, err := pm.c.ExchangeManager().InitiateExchangeWithChannel(ctx, &components.MessageChannel{
		Channel: channel,
		Session: unsecure,
	}, components.SecureChannelProtocolID)
	if err != nil {
		return nil, convertNoResponseTimeout(ctx, address, err)
	}

	secure, resumed, err := pm.c.CASEClient().Pair(ctx, exchange, unsecure, address)
	if err != nil {
		// Close the exchange before the error propagates
		if closeErr := exchange.Close(ctx); closeErr != nil {
			log.L(ctx).Warnf("failed to close exchange %d: %s", exchange.ID(), closeErr)
		}
		return nil, convertNoResponseTimeout(ctx, address, err)
	}

	if !resumed {
		// Not a resumption: the device likely rebooted or upgraded, so
		// nothing previously cached for it can be trusted
		log.L(ctx).Debugf("CASE session with %s not resumed, dropping cached node data", address)
		pm.nodeCache.drop(address)
	}

	// Destroy the unsecure initiator session before the secure channel is
	// registered, then hand the transport channel to the secure session
	success = true
	destroyUnsecure()
	mc = &components.MessageChannel{Channel: channel, Session: secure}
	if err := pm.c.ChannelManager().SetChannel(ctx, address, mc); err != nil {
		_ = secure.Destroy(ctx)
		_ = channel.Close()
		return nil, err
	}
	log.L(ctx).Infof("secure channel established with %s via %s (resumed=%t)", address, serverAddress, resumed)
	return mc, nil
}

// initialSessionParameters sources the unsecure session parameters in
// priority order: discovery TXT hints, then any resumption record on file,
// then nil for the session manager to default.
func (pm *PeerManager) initialSessionParameters(address *mtrtypes.PeerAddress, discoveryData *mtrtypes.DiscoveryData) *components.SessionParameters {
	if discoveryData != nil &&
		(discoveryData.SessionIdleInterval != nil || discoveryData.SessionActiveInterval != nil || discoveryData.SessionActiveThreshold != nil) {
		params := &components.SessionParameters{}
		if discoveryData.SessionIdleInterval != nil {
			params.IdleInterval = time.Duration(*discoveryData.SessionIdleInterval) * time.Millisecond
		}
		if discoveryData.SessionActiveInterval != nil {
			params.ActiveInterval = time.Duration(*discoveryData.SessionActiveInterval) * time.Millisecond
		}
		if discoveryData.SessionActiveThreshold != nil {
			params.ActiveThreshold = time.Duration(*discoveryData.SessionActiveThreshold) * time.Millisecond
		}
		return params
	}
	if record := pm.c.SessionManager().FindResumptionRecord(address); record != nil {
		return record.SessionParameters
	}
	return nil
}
