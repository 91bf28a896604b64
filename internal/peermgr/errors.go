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
	"errors"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/internal/msgs"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// DiscoveryError reports that discovery produced no usable address for a
// peer.
type DiscoveryError struct {
	error
	Address *mtrtypes.PeerAddress
}

func newDiscoveryError(ctx context.Context, msg i18n.ErrorMessageKey, address *mtrtypes.PeerAddress) error {
	return &DiscoveryError{
		error:   i18n.NewError(ctx, msg, address),
		Address: address,
	}
}

func IsDiscoveryError(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de)
}

// PairRetransmissionLimitReachedError reports CASE or transport exhaustion
// during pairing. NoResponseTimeoutError from the transport converts to this,
// preserving the message.
type PairRetransmissionLimitReachedError struct {
	error
}

func (e *PairRetransmissionLimitReachedError) Unwrap() error {
	return errors.Unwrap(e.error)
}

func IsPairRetransmissionLimitReached(err error) bool {
	var pe *PairRetransmissionLimitReachedError
	return errors.As(err, &pe)
}

// convertNoResponseTimeout applies the pairing error-conversion rule: a
// transport NoResponseTimeoutError becomes PairRetransmissionLimitReached
// with the original message preserved. Other errors pass through.
func convertNoResponseTimeout(ctx context.Context, address *mtrtypes.PeerAddress, err error) error {
	if err == nil || !components.IsNoResponseTimeout(err) {
		return err
	}
	return &PairRetransmissionLimitReachedError{
		error: i18n.WrapError(ctx, err, msgs.MsgPairRetransmissionLimit, address, err.Error()),
	}
}

// RetransmissionLimitReachedError is the higher-level exhaustion surfaced to
// interaction callers when a channel is gone and cannot be re-established.
type RetransmissionLimitReachedError struct {
	error
	Address *mtrtypes.PeerAddress
}

func newRetransmissionLimitError(ctx context.Context, address *mtrtypes.PeerAddress) error {
	return &RetransmissionLimitReachedError{
		error:   i18n.NewError(ctx, msgs.MsgChannelRetransmissionLimit, address),
		Address: address,
	}
}

func IsRetransmissionLimitReached(err error) bool {
	var re *RetransmissionLimitReachedError
	return errors.As(err, &re)
}
