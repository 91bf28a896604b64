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

package peerstore

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/matternode/internal/components"
	"github.com/kaleido-io/matternode/internal/msgs"
	"github.com/kaleido-io/matternode/pkg/mtrtypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// This contains the fields that go into the database. We keep it separate
// from components.OperationalPeer so GORM annotations and serialization
// concerns stay out of the API surface.
type persistedPeer struct {
	Address       string                  `gorm:"column:address;primaryKey"`
	FabricIndex   uint8                   `gorm:"column:fabric_index"`
	NodeID        uint64                  `gorm:"column:node_id"`
	ChannelType   *string                 `gorm:"column:channel_type"`
	IP            *string                 `gorm:"column:ip"`
	Port          *uint16                 `gorm:"column:port"`
	DiscoveryData *mtrtypes.DiscoveryData `gorm:"column:discovery_data;type:text"`
}

func (persistedPeer) TableName() string {
	return "operational_peers"
}

type peerStore struct {
	db *gorm.DB
}

// NewPeerStore wraps a gorm handle as the durable peer store. Migration is
// the caller's concern (Migrate below) so unit tests can mock the DB.
func NewPeerStore(db *gorm.DB) components.PeerStore {
	return &peerStore{db: db}
}

// Migrate creates or upgrades the operational_peers table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&persistedPeer{})
}

func (ps *peerStore) LoadPeers(ctx context.Context) ([]*components.OperationalPeer, error) {
	var rows []*persistedPeer
	err := ps.db.WithContext(ctx).
		Order("address ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgPeerStoreLoadFailed)
	}
	peers := make([]*components.OperationalPeer, 0, len(rows))
	for _, row := range rows {
		peer, err := row.toPeer(ctx)
		if err != nil {
			// A corrupt row must not take down startup - log and skip
			log.L(ctx).Warnf("skipping invalid persisted peer '%s': %s", row.Address, err)
			continue
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

func (ps *peerStore) UpdatePeer(ctx context.Context, peer *components.OperationalPeer) error {
	row := toPersisted(peer)
	err := ps.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			UpdateAll: true,
		}).
		Create(row).
		Error
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgPeerStoreUpdateFailed, peer.Address)
	}
	return nil
}

func (ps *peerStore) DeletePeer(ctx context.Context, address *mtrtypes.PeerAddress) error {
	address = mtrtypes.InternPtr(address)
	err := ps.db.WithContext(ctx).
		Where("address = ?", address.String()).
		Delete(&persistedPeer{}).
		Error
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgPeerStoreDeleteFailed, address)
	}
	return nil
}

func toPersisted(peer *components.OperationalPeer) *persistedPeer {
	address := mtrtypes.InternPtr(peer.Address)
	row := &persistedPeer{
		Address:       address.String(),
		FabricIndex:   uint8(address.Fabric),
		NodeID:        uint64(address.Node),
		DiscoveryData: peer.DiscoveryData,
	}
	if oa := peer.OperationalAddress; oa != nil {
		channelType := string(oa.Type)
		ip := oa.IP
		port := oa.Port
		row.ChannelType = &channelType
		row.IP = &ip
		row.Port = &port
	}
	return row
}

func (row *persistedPeer) toPeer(ctx context.Context) (*components.OperationalPeer, error) {
	address, err := mtrtypes.ParsePeerAddress(row.Address)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgPeerInvalidAddress, row.Address)
	}
	peer := &components.OperationalPeer{
		Address:       address,
		DiscoveryData: row.DiscoveryData,
	}
	if row.IP != nil && row.Port != nil {
		channelType := mtrtypes.ChannelTypeUDP
		if row.ChannelType != nil {
			channelType = mtrtypes.ChannelType(*row.ChannelType)
		}
		peer.OperationalAddress = &mtrtypes.ServerAddress{
			Type: channelType,
			IP:   *row.IP,
			Port: *row.Port,
		}
	}
	return peer, nil
}
