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

// SessionParameters are the MRP timing parameters negotiated for a session.
type SessionParameters struct {
	IdleInterval    time.Duration
	ActiveInterval  time.Duration
	ActiveThreshold time.Duration
}

// Session is the common surface of secure and unsecure sessions as consumed
// by this core.
type Session interface {
	ID() uint16
	IsSecure() bool

	// PeerAddress returns nil for sessions with no fabric/node association
	// (PASE, or unsecure initiator sessions before CASE completes).
	PeerAddress() *mtrtypes.PeerAddress

	Parameters() SessionParameters
	Destroy(ctx context.Context) error
}

// SecureSession is a session produced by a completed CASE exchange.
type SecureSession interface {
	Session

	// CaseResumed reports whether the session was established via the
	// resumption shortcut rather than a full sigma exchange.
	CaseResumed() bool
}

// ResumptionRecord is the stored outcome of a prior CASE establishment,
// consulted to seed session parameters and attempt resumption.
type ResumptionRecord struct {
	Address           *mtrtypes.PeerAddress
	SharedSecret      []byte
	SessionParameters *SessionParameters
}

// InsecureSessionOptions configure the initiator session the pairing driver
// allocates before CASE runs.
type InsecureSessionOptions struct {
	SessionParameters *SessionParameters
	IsInitiator       bool
}

// SessionManager is the singleton session bookkeeper per fabric context.
type SessionManager interface {
	CreateInsecureSession(ctx context.Context, opts InsecureSessionOptions) (Session, error)
	FindResumptionRecord(address *mtrtypes.PeerAddress) *ResumptionRecord
	DeleteResumptionRecord(ctx context.Context, address *mtrtypes.PeerAddress) error

	// RemoveAllSessionsForNode tears down every session for the peer,
	// informing upper layers. sendClose requests a best-effort close on the
	// wire first.
	RemoveAllSessionsForNode(ctx context.Context, address *mtrtypes.PeerAddress, sendClose bool) error

	// FabricFor resolves the fabric a peer address belongs to, nil if the
	// fabric index is unknown.
	FabricFor(address *mtrtypes.PeerAddress) *Fabric

	// OnResubmissionStarted registers for the reliable-messaging first-retry
	// event. The returned function unregisters.
	OnResubmissionStarted(fn func(session Session)) func()
}

// CASEClient runs the CASE key agreement over an already-open exchange on the
// secure channel protocol. The cryptography is out of scope of this core.
type CASEClient interface {
	// Pair reports the established secure session, and whether it was
	// resumed from a resumption record rather than fully re-established.
	Pair(ctx context.Context, exchange Exchange, unsecureSession Session, address *mtrtypes.PeerAddress) (SecureSession, bool, error)
}
