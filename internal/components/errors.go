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
	"errors"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/matternode/internal/msgs"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
)

// NoChannelError is the expected-miss returned by ChannelManager.GetChannel.
// Callers branch on it with errors.As and treat it as a cache miss, not a
// failure.
type NoChannelError struct {
	error
	Address *mtrtypes.PeerAddress
}

func NewNoChannelError(ctx context.Context, address *mtrtypes.PeerAddress) error {
	return &NoChannelError{
		error:   i18n.NewError(ctx, msgs.MsgChannelNone, address),
		Address: address,
	}
}

func IsNoChannel(err error) bool {
	var nce *NoChannelError
	return errors.As(err, &nce)
}

// NoResponseTimeoutError reports exhaustion of the reliable-messaging
// retransmission schedule on the transport. Raised by external collaborators
// (transports, exchanges); converted by the pairing driver.
type NoResponseTimeoutError struct {
	error
}

func NewNoResponseTimeoutError(err error) error {
	return &NoResponseTimeoutError{error: err}
}

func (e *NoResponseTimeoutError) Unwrap() error { return e.error }

func IsNoResponseTimeout(err error) bool {
	var nrt *NoResponseTimeoutError
	return errors.As(err, &nrt)
}
