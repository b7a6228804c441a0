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

// IPVlanEndpoint represents a ipvlan endpoint that is bridged to the VM
type IPVlanEndpoint struct {
	NetworkPairEndpointBase
}

func NewIPVlanEndpoint(handle NetlinkHandle, idx int, ifName string, interworkingModel NetInterworkingModel, queues int, opts ...EndpointOption) (*IPVlanEndpoint, error) {
	base, err := createNetworkPairEndpoint(handle, idx, ifName, interworkingModel, queues, IPVlanEndpointType, &netlink.IPVlan{}, opts)
	if err != nil {
		return nil, err
	}

	return &IPVlanEndpoint{NetworkPairEndpointBase: *base}, nil
}

func (endpoint *IPVlanEndpoint) Save() persistapi.NetworkEndpoint {
	return persistapi.NetworkEndpoint{
		Type: string(endpoint.Type()),
		IPVlan: &persistapi.IPVlanEndpoint{
			NetPair: saveNetIfPair(&endpoint.NetPair),
		},
	}
}

func loadIPVlanEndpoint(s *persistapi.IPVlanEndpoint, handle NetlinkHandle, opts ...EndpointOption) (*IPVlanEndpoint, error) {
	base, err := loadNetworkPairEndpoint(&s.NetPair, IPVlanEndpointType, handle, opts)
	if err != nil {
		return nil, err
	}

	return &IPVlanEndpoint{NetworkPairEndpointBase: *base}, nil
}
