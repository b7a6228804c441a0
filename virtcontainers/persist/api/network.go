// Copyright (c) 2016 Intel Corporation
// Copyright (c) 2019 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package persistapi

// ============= sandbox level resources =============

type NetworkInterface struct {
	Name     string
	HardAddr string
	MTU      int `json:",omitempty"`
}

// NetworkInterfacePair defines a pair between VM and virtual network interfaces.
type NetworkInterfacePair struct {
	TAPIface             NetworkInterface
	VirtIface            NetworkInterface
	BridgeName           string `json:",omitempty"`
	LinkIndex            int
	Queues               int
	NetInterworkingModel int
}

type MacvtapEndpoint struct {
	NetPair NetworkInterfacePair
	// VhostEnabled records whether the last attach provisioned vhost-net
	// queues. It is false until the endpoint is first attached, whatever
	// the hypervisor configuration, and survives a detach. A restored
	// endpoint asks the hypervisor again on attach.
	VhostEnabled bool
	// descriptors are never saved, they are provisioned on attach
}

type VethEndpoint struct {
	NetPair NetworkInterfacePair
}

type IPVlanEndpoint struct {
	NetPair NetworkInterfacePair
}

// NetworkEndpoint contains network interface information
type NetworkEndpoint struct {
	Type string

	// One and only one of these below are not nil according to Type.
	Macvtap *MacvtapEndpoint `json:",omitempty"`
	Veth    *VethEndpoint    `json:",omitempty"`
	IPVlan  *IPVlanEndpoint  `json:",omitempty"`
}

// NetworkInfo contains network information of sandbox
type NetworkInfo struct {
	NetNsPath         string
	NetNsCreated      bool
	InterworkingModel string `json:",omitempty"`
	Endpoints         []NetworkEndpoint
}
