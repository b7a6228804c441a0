//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"

	persistapi "github.com/kata-containers/kata-netprov/virtcontainers/persist/api"
)

// NetworkPairEndpointBase contains the common implementation for
// network pair-based endpoints (veth, ipvlan). The host side tap is
// created by the network model and opened by name by the hypervisor, so
// these endpoints hold no descriptors.
type NetworkPairEndpointBase struct {
	NetPair      NetworkInterfacePair
	EndpointType EndpointType

	model    NetworkModel
	attached bool
	opts     endpointOptions
}

// createNetworkPairEndpoint creates a network pair endpoint with the given type
func createNetworkPairEndpoint(handle NetlinkHandle, idx int, ifName string, interworkingModel NetInterworkingModel,
	queues int, endpointType EndpointType, expectedLink netlink.Link, opts []EndpointOption) (*NetworkPairEndpointBase, error) {
	if idx < 0 {
		return nil, configurationError(nil, "invalid network endpoint index: %d", idx)
	}

	if queues < 1 {
		return nil, configurationError(nil, "invalid queue count %d for %s", queues, ifName)
	}

	if handle == nil {
		return nil, configurationError(nil, "missing netlink handle")
	}

	netPair, err := createNetworkInterfacePair(handle, idx, ifName, resolveInterworkingModel(interworkingModel), queues, expectedLink)
	if err != nil {
		return nil, err
	}

	return newNetworkPairEndpoint(netPair, endpointType, handle, opts)
}

func newNetworkPairEndpoint(netPair NetworkInterfacePair, endpointType EndpointType, handle NetlinkHandle, opts []EndpointOption) (*NetworkPairEndpointBase, error) {
	o := newEndpointOptions(endpointType, opts)

	switch netPair.NetInterworkingModel {
	case NetXConnectTCFilterModel, NetXConnectBridgedModel, NetXConnectNoneModel:
	default:
		return nil, configurationError(nil, "%s endpoint %s cannot use the %s network model",
			endpointType, netPair.VirtIface.Name, netPair.GetModel())
	}

	model, err := NewNetworkModel(netPair.NetInterworkingModel, handle, o.logger)
	if err != nil {
		return nil, err
	}

	o.logger = o.logger.WithField("endpoint", netPair.VirtIface.Name)

	return &NetworkPairEndpointBase{
		NetPair:      netPair,
		EndpointType: endpointType,
		model:        model,
		opts:         o,
	}, nil
}

// createNetworkInterfacePair resolves the container interface ifName. The
// tap inherits its hardware address, which is the one the guest must use:
// the network plugin expects traffic from that address.
func createNetworkInterfacePair(handle NetlinkHandle, idx int, ifName string, interworkingModel NetInterworkingModel,
	queues int, expectedLink netlink.Link) (NetworkInterfacePair, error) {
	if ifName == "" {
		return NetworkInterfacePair{}, configurationError(nil, "missing interface name for network endpoint %d", idx)
	}

	link, err := getLinkByName(handle, ifName)
	if err != nil {
		return NetworkInterfacePair{}, err
	}

	if link.Type() != expectedLink.Type() {
		return NetworkInterfacePair{}, configurationError(nil, "Incorrect link type %s for %s, expecting %s",
			link.Type(), ifName, expectedLink.Type())
	}

	attrs := link.Attrs()
	hardAddr := attrs.HardwareAddr.String()

	return NetworkInterfacePair{
		TAPIface: NetworkInterface{
			Name:     fmt.Sprintf("tap%d_kata", idx),
			HardAddr: hardAddr,
			MTU:      attrs.MTU,
		},
		VirtIface: NetworkInterface{
			Name:     ifName,
			HardAddr: hardAddr,
			MTU:      attrs.MTU,
		},
		BridgeName:           fmt.Sprintf("br%d_kata", idx),
		LinkIndex:            attrs.Index,
		Queues:               queues,
		NetInterworkingModel: interworkingModel,
	}, nil
}

// Name returns name of the interface in the network pair.
func (endpoint *NetworkPairEndpointBase) Name() string {
	return endpoint.NetPair.VirtIface.Name
}

// HardwareAddr returns the mac address that is assigned to the tap interface
// in the network pair.
func (endpoint *NetworkPairEndpointBase) HardwareAddr() string {
	return endpoint.NetPair.TAPIface.HardAddr
}

// Type identifies the endpoint type.
func (endpoint *NetworkPairEndpointBase) Type() EndpointType {
	return endpoint.EndpointType
}

// NetworkPair returns the network pair of the endpoint.
func (endpoint *NetworkPairEndpointBase) NetworkPair() *NetworkInterfacePair {
	return &endpoint.NetPair
}

func (endpoint *NetworkPairEndpointBase) NetworkModel() NetworkModel {
	return endpoint.model
}

func (endpoint *NetworkPairEndpointBase) NetworkConfig() (NetworkConfig, error) {
	return networkConfigFromPair(&endpoint.NetPair)
}

func (endpoint *NetworkPairEndpointBase) Attached() bool {
	return endpoint.attached
}

// Attach wires the pair on the host and adds the tap to the hypervisor.
func (endpoint *NetworkPairEndpointBase) Attach(ctx context.Context, h Hypervisor) (err error) {
	if endpoint.attached {
		return errors.Wrapf(ErrEndpointAttached, "%s endpoint %s", endpoint.Type(), endpoint.Name())
	}

	logger := endpoint.opts.logger
	span, ctx := networkTrace(ctx, logger, "Attach", endpoint)
	defer func() {
		closeSpan(span, err)
		recordAttach(endpoint.Type(), err)
	}()

	config, err := endpoint.NetworkConfig()
	if err != nil {
		return err
	}

	if err = endpoint.model.Add(ctx, &endpoint.NetPair); err != nil {
		logger.WithError(err).Errorf("Error bridging %s endpoint", endpoint.Type())
		return err
	}

	if err = h.AddDevice(ctx, NetworkDevice{Config: config}, NetDev); err != nil {
		if delErr := endpoint.model.Del(context.WithoutCancel(ctx), &endpoint.NetPair); delErr != nil {
			logger.WithError(delErr).Warnf("Error un-bridging %s endpoint", endpoint.Type())
		}
		return newError(ErrHypervisorRejection, err, "could not add network device %s", config.HostDevName)
	}

	endpoint.attached = true
	return nil
}

// Detach removes the tap from the hypervisor and tears down the host
// wiring.
func (endpoint *NetworkPairEndpointBase) Detach(ctx context.Context, h Hypervisor) (err error) {
	if !endpoint.attached {
		return errors.Wrapf(ErrEndpointDetached, "%s endpoint %s", endpoint.Type(), endpoint.Name())
	}

	logger := endpoint.opts.logger
	span, ctx := networkTrace(ctx, logger, "Detach", endpoint)
	defer func() {
		closeSpan(span, err)
		recordDetach(endpoint.Type(), err)
	}()

	var result *multierror.Error

	config, err := endpoint.NetworkConfig()
	if err != nil {
		result = multierror.Append(result, err)
	} else if err := h.RemoveDevice(ctx, NetworkDevice{Config: config}, NetDev); err != nil {
		result = multierror.Append(result, newError(ErrHypervisorRejection, err, "could not remove network device %s", config.HostDevName))
	}

	if err := endpoint.model.Del(ctx, &endpoint.NetPair); err != nil {
		logger.WithError(err).Warnf("Error un-bridging %s endpoint", endpoint.Type())
		result = multierror.Append(result, err)
	}

	endpoint.attached = false
	return result.ErrorOrNil()
}

func (endpoint *NetworkPairEndpointBase) isEndpoint() {}

func loadNetworkPairEndpoint(netpair *persistapi.NetworkInterfacePair, endpointType EndpointType,
	handle NetlinkHandle, opts []EndpointOption) (*NetworkPairEndpointBase, error) {
	pair, err := loadNetIfPair(netpair)
	if err != nil {
		return nil, err
	}
	return newNetworkPairEndpoint(pair, endpointType, handle, opts)
}
