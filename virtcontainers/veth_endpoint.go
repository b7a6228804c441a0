//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"github.com/vishvananda/netlink"

	persistapi "github.com/kata-containers/kata-netprov/virtcontainers/persist/api"
)

// VethEndpoint gathers a network pair and its properties.
type VethEndpoint struct {
	NetworkPairEndpointBase
}

// NewVethEndpoint builds a detached endpoint for the veth ifName of the
// sandbox network namespace. idx names the host tap and bridge.
func NewVethEndpoint(handle NetlinkHandle, idx int, ifName string, interworkingModel NetInterworkingModel, queues int, opts ...EndpointOption) (*VethEndpoint, error) {
	base, err := createNetworkPairEndpoint(handle, idx, ifName, interworkingModel, queues, VethEndpointType, &netlink.Veth{}, opts)
	if err != nil {
		return nil, err
	}

	return &VethEndpoint{NetworkPairEndpointBase: *base}, nil
}

func (endpoint *VethEndpoint) Save() persistapi.NetworkEndpoint {
	return persistapi.NetworkEndpoint{
		Type: string(endpoint.Type()),
		Veth: &persistapi.VethEndpoint{
			NetPair: saveNetIfPair(&endpoint.NetPair),
		},
	}
}

func loadVethEndpoint(s *persistapi.VethEndpoint, handle NetlinkHandle, opts ...EndpointOption) (*VethEndpoint, error) {
	base, err := loadNetworkPairEndpoint(&s.NetPair, VethEndpointType, handle, opts)
	if err != nil {
		return nil, err
	}

	return &VethEndpoint{NetworkPairEndpointBase: *base}, nil
}
