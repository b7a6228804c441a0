//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	persistapi "github.com/kata-containers/kata-netprov/virtcontainers/persist/api"
)

// Endpoint represents a physical or virtual network interface.
//
// An endpoint moves from detached to attached with Attach and back with
// Detach. Attach on an attached endpoint fails with ErrEndpointAttached,
// Detach on a detached one with ErrEndpointDetached. Endpoints hold no
// lock: a caller must not run Attach or Detach concurrently on the same
// endpoint.
type Endpoint interface {
	Name() string
	HardwareAddr() string
	Type() EndpointType
	NetworkPair() *NetworkInterfacePair
	NetworkModel() NetworkModel
	NetworkConfig() (NetworkConfig, error)
	Attached() bool

	Attach(ctx context.Context, h Hypervisor) error
	Detach(ctx context.Context, h Hypervisor) error
	Save() persistapi.NetworkEndpoint

	isEndpoint()
}

// EndpointType identifies the type of the network endpoint.
type EndpointType string

const (
	// VethEndpointType is the virtual network interface.
	VethEndpointType EndpointType = "virtual"

	// MacvtapEndpointType is macvtap network interface.
	MacvtapEndpointType EndpointType = "macvtap"

	// IPVlanEndpointType is ipvlan network interface.
	IPVlanEndpointType EndpointType = "ipvlan"
)

// Set sets an endpoint type based on the input string.
func (endpointType *EndpointType) Set(value string) error {
	switch value {
	case "virtual":
		*endpointType = VethEndpointType
		return nil
	case "macvtap":
		*endpointType = MacvtapEndpointType
		return nil
	case "ipvlan":
		*endpointType = IPVlanEndpointType
		return nil
	default:
		return fmt.Errorf("Unknown endpoint type %s", value)
	}
}

// String converts an endpoint type to a string.
func (endpointType *EndpointType) String() string {
	switch *endpointType {
	case VethEndpointType:
		return string(VethEndpointType)
	case MacvtapEndpointType:
		return string(MacvtapEndpointType)
	case IPVlanEndpointType:
		return string(IPVlanEndpointType)
	default:
		return ""
	}
}

type endpointOptions struct {
	logger       *logrus.Entry
	tapDevFormat string
	vhostDev     string
}

// EndpointOption configures an endpoint at construction.
type EndpointOption func(*endpointOptions)

// WithLogger sets the logger of the endpoint and of its network model.
func WithLogger(logger *logrus.Entry) EndpointOption {
	return func(o *endpointOptions) {
		o.logger = logger
	}
}

// WithDevicePaths overrides the macvtap device node format, which takes
// the link index, and the vhost-net device node.
func WithDevicePaths(tapDevFormat, vhostDev string) EndpointOption {
	return func(o *endpointOptions) {
		if tapDevFormat != "" {
			o.tapDevFormat = tapDevFormat
		}
		if vhostDev != "" {
			o.vhostDev = vhostDev
		}
	}
}

func newEndpointOptions(endpointType EndpointType, opts []EndpointOption) endpointOptions {
	o := endpointOptions{
		tapDevFormat: defaultTapDevFormat,
		vhostDev:     defaultVhostDev,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = DefaultNetworkLogger()
	}
	o.logger = o.logger.WithField("endpoint-type", string(endpointType))
	return o
}

func saveNetIfPair(pair *NetworkInterfacePair) persistapi.NetworkInterfacePair {
	return persistapi.NetworkInterfacePair{
		TAPIface: persistapi.NetworkInterface{
			Name:     pair.TAPIface.Name,
			HardAddr: pair.TAPIface.HardAddr,
			MTU:      pair.TAPIface.MTU,
		},
		VirtIface: persistapi.NetworkInterface{
			Name:     pair.VirtIface.Name,
			HardAddr: pair.VirtIface.HardAddr,
			MTU:      pair.VirtIface.MTU,
		},
		BridgeName:           pair.BridgeName,
		LinkIndex:            pair.LinkIndex,
		Queues:               pair.Queues,
		NetInterworkingModel: int(pair.NetInterworkingModel),
	}
}

func loadNetIfPair(pair *persistapi.NetworkInterfacePair) (NetworkInterfacePair, error) {
	model := NetInterworkingModel(pair.NetInterworkingModel)
	if !model.IsValid() {
		return NetworkInterfacePair{}, configurationError(nil, "invalid saved internetworking model %d", pair.NetInterworkingModel)
	}

	return NetworkInterfacePair{
		TAPIface: NetworkInterface{
			Name:     pair.TAPIface.Name,
			HardAddr: pair.TAPIface.HardAddr,
			MTU:      pair.TAPIface.MTU,
		},
		VirtIface: NetworkInterface{
			Name:     pair.VirtIface.Name,
			HardAddr: pair.VirtIface.HardAddr,
			MTU:      pair.VirtIface.MTU,
		},
		BridgeName:           pair.BridgeName,
		LinkIndex:            pair.LinkIndex,
		Queues:               pair.Queues,
		NetInterworkingModel: model,
	}, nil
}

// RestoreEndpoint rebuilds a detached endpoint from its saved state. handle
// is only used by models that wire the host network.
func RestoreEndpoint(s persistapi.NetworkEndpoint, handle NetlinkHandle, opts ...EndpointOption) (Endpoint, error) {
	var endpointType EndpointType
	if err := endpointType.Set(s.Type); err != nil {
		return nil, configurationError(err, "cannot restore endpoint")
	}

	var (
		ep  Endpoint
		err error
	)

	switch {
	case endpointType == MacvtapEndpointType && s.Macvtap != nil:
		var mep *MacvtapEndpoint
		if mep, err = loadMacvtapEndpoint(s.Macvtap, opts...); err == nil {
			ep = mep
		}
	case endpointType == VethEndpointType && s.Veth != nil:
		var vep *VethEndpoint
		if vep, err = loadVethEndpoint(s.Veth, handle, opts...); err == nil {
			ep = vep
		}
	case endpointType == IPVlanEndpointType && s.IPVlan != nil:
		var iep *IPVlanEndpoint
		if iep, err = loadIPVlanEndpoint(s.IPVlan, handle, opts...); err == nil {
			ep = iep
		}
	default:
		return nil, configurationError(nil, "missing %s endpoint state", s.Type)
	}

	if err != nil {
		return nil, err
	}

	return ep, nil
}

func findEndpoint(e Endpoint, endpoints []Endpoint) (Endpoint, int) {
	for idx, ep := range endpoints {
		if ep.HardwareAddr() == e.HardwareAddr() {
			return ep, idx
		}
	}

	return nil, -1
}
