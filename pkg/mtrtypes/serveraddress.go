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

package mtrtypes

import (
	"fmt"
	"net"
	"strings"
)

// ChannelType distinguishes the transports a peer can be reached over.
type ChannelType string

const (
	ChannelTypeUDP ChannelType = "udp"
	ChannelTypeTCP ChannelType = "tcp"
	ChannelTypeBLE ChannelType = "ble"
)

// ServerAddress is one reachable transport endpoint of a peer, as produced by
// operational discovery or loaded from the peer store.
type ServerAddress struct {
	Type ChannelType `json:"type"`
	IP   string      `json:"ip"`
	Port uint16      `json:"port"`
}

func (sa *ServerAddress) String() string {
	if sa.IsIPv6() {
		return fmt.Sprintf("%s://[%s]:%d", sa.Type, sa.IP, sa.Port)
	}
	return fmt.Sprintf("%s://%s:%d", sa.Type, sa.IP, sa.Port)
}

// IsIPv6 is decided by the address literal alone.
func (sa *ServerAddress) IsIPv6() bool {
	if strings.Contains(sa.IP, ":") {
		return true
	}
	ip := net.ParseIP(sa.IP)
	return ip != nil && ip.To4() == nil
}

// BindAddress selects the local wildcard interface address for the family of
// this endpoint - "::" for IPv6 targets, "0.0.0.0" for IPv4.
func (sa *ServerAddress) BindAddress() string {
	if sa.IsIPv6() {
		return "::"
	}
	return "0.0.0.0"
}
