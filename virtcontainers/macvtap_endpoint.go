//go:build linux

// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"

	persistapi "github.com/kata-containers/kata-netprov/virtcontainers/persist/api"
	"github.com/kata-containers/kata-netprov/virtcontainers/utils"
)

// MacvtapEndpoint represents a macvtap endpoint
type MacvtapEndpoint struct {
	NetPair      NetworkInterfacePair
	EndpointType EndpointType
	VMFds        []*os.File
	VhostFds     []*os.File

	model    NetworkModel
	attached bool
	vhostNet bool
	opts     endpointOptions
}

// NewMacvtapEndpoint resolves the macvtap link linkIndex and returns a
// detached endpoint exposing it to the guest as name, with one queue per
// vCPU.
func NewMacvtapEndpoint(handle NetlinkHandle, name string, linkIndex int, queues int, opts ...EndpointOption) (*MacvtapEndpoint, error) {
	if linkIndex <= 0 {
		return nil, configurationError(nil, "invalid macvtap link index %d", linkIndex)
	}

	if queues < 1 {
		return nil, configurationError(nil, "invalid queue count %d for macvtap link %d", queues, linkIndex)
	}

	if handle == nil {
		return nil, configurationError(nil, "missing netlink handle")
	}

	link, err := handle.LinkByIndex(linkIndex)
	if err != nil {
		return nil, netlinkError(err, "LinkByIndex() failed for macvtap link %d", linkIndex)
	}

	if _, ok := link.(*netlink.Macvtap); !ok {
		return nil, configurationError(nil, "Incorrect link type %s for link %d, expecting macvtap", link.Type(), linkIndex)
	}

	attrs := link.Attrs()
	hardAddr := attrs.HardwareAddr.String()

	if name == "" {
		name = attrs.Name
	}

	pair := NetworkInterfacePair{
		TAPIface: NetworkInterface{
			Name:     attrs.Name,
			HardAddr: hardAddr,
			MTU:      attrs.MTU,
		},
		VirtIface: NetworkInterface{
			Name:     name,
			HardAddr: hardAddr,
			MTU:      attrs.MTU,
		},
		LinkIndex:            linkIndex,
		Queues:               queues,
		NetInterworkingModel: NetXConnectMacVtapModel,
	}

	return newMacvtapEndpoint(pair, opts)
}

func newMacvtapEndpoint(pair NetworkInterfacePair, opts []EndpointOption) (*MacvtapEndpoint, error) {
	o := newEndpointOptions(MacvtapEndpointType, opts)

	if pair.NetInterworkingModel != NetXConnectMacVtapModel {
		return nil, configurationError(nil, "macvtap endpoint %s cannot use the %s network model",
			pair.VirtIface.Name, pair.GetModel())
	}

	model, err := NewNetworkModel(pair.NetInterworkingModel, nil, o.logger)
	if err != nil {
		return nil, err
	}

	o.logger = o.logger.WithFields(logrus.Fields{
		"endpoint":   pair.VirtIface.Name,
		"link-index": pair.LinkIndex,
	})

	return &MacvtapEndpoint{
		NetPair:      pair,
		EndpointType: MacvtapEndpointType,
		model:        model,
		opts:         o,
	}, nil
}

// HardwareAddr returns the mac address of the macvtap network interface.
func (endpoint *MacvtapEndpoint) HardwareAddr() string {
	return endpoint.NetPair.TAPIface.HardAddr
}

// Name returns name of the macvtap interface.
func (endpoint *MacvtapEndpoint) Name() string {
	return endpoint.NetPair.VirtIface.Name
}

// Type indentifies the endpoint as a macvtap endpoint.
func (endpoint *MacvtapEndpoint) Type() EndpointType {
	return endpoint.EndpointType
}

// NetworkPair returns the network pair of the endpoint.
func (endpoint *MacvtapEndpoint) NetworkPair() *NetworkInterfacePair {
	return &endpoint.NetPair
}

func (endpoint *MacvtapEndpoint) NetworkModel() NetworkModel {
	return endpoint.model
}

// NetworkConfig returns the device configuration handed to the hypervisor.
func (endpoint *MacvtapEndpoint) NetworkConfig() (NetworkConfig, error) {
	return networkConfigFromPair(&endpoint.NetPair)
}

func (endpoint *MacvtapEndpoint) Attached() bool {
	return endpoint.attached
}

// Attach for macvtap endpoint opens one macvtap and, unless disabled, one
// vhost-net descriptor per vCPU and passes them to the hypervisor. On
// failure nothing is left open and no device is registered.
func (endpoint *MacvtapEndpoint) Attach(ctx context.Context, h Hypervisor) (err error) {
	if endpoint.attached {
		return errors.Wrapf(ErrEndpointAttached, "macvtap endpoint %s", endpoint.Name())
	}

	logger := endpoint.opts.logger
	span, ctx := networkTrace(ctx, logger, "Attach", endpoint)
	defer func() {
		closeSpan(span, err)
		recordAttach(endpoint.Type(), err)
	}()

	hConfig := h.HypervisorConfig()

	queues := int(hConfig.NumVCPUs)
	if queues == 0 {
		queues = endpoint.NetPair.Queues
	}
	if queues < 1 {
		return configurationError(nil, "missing queue count for macvtap endpoint %s", endpoint.Name())
	}

	// A malformed address must fail before anything is opened.
	config, err := endpoint.NetworkConfig()
	if err != nil {
		return err
	}

	vmFds, err := createMacvtapFds(ctx, endpoint.opts.tapDevFormat, endpoint.NetPair.LinkIndex, queues)
	if err != nil {
		return errors.WithMessagef(err, "Could not setup macvtap fds %s", endpoint.Name())
	}

	var vhostFds []*os.File
	defer func() {
		if err != nil {
			utils.CleanupFds(vmFds, len(vmFds))
			utils.CleanupFds(vhostFds, len(vhostFds))
		}
	}()

	if !hConfig.DisableVhostNet {
		vhostFds, err = createVhostFds(ctx, endpoint.opts.vhostDev, queues)
		if err != nil {
			return errors.WithMessagef(err, "Could not setup vhost fds %s", endpoint.Name())
		}
	}

	if err = endpoint.model.Add(ctx, &endpoint.NetPair); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if delErr := endpoint.model.Del(context.WithoutCancel(ctx), &endpoint.NetPair); delErr != nil {
				logger.WithError(delErr).Warn("Could not undo network model after failure")
			}
		}
	}()

	// The device becomes visible to the guest with AddDevice, cancellation
	// is not honoured past this point.
	if err = ctx.Err(); err != nil {
		return errors.Wrapf(err, "attaching macvtap endpoint %s", endpoint.Name())
	}

	dev := NetworkDevice{
		Config:   config,
		VMFds:    utils.FdValues(vmFds),
		VhostFds: utils.FdValues(vhostFds),
	}

	if err = h.AddDevice(ctx, dev, NetDev); err != nil {
		return newError(ErrHypervisorRejection, err, "could not add network device %s", config.HostDevName)
	}

	endpoint.VMFds = vmFds
	endpoint.VhostFds = vhostFds
	endpoint.vhostNet = len(vhostFds) > 0
	endpoint.attached = true
	recordQueueFds(len(vmFds), len(vhostFds))

	logger.WithFields(logrus.Fields{
		"queues": queues,
		"vhost":  endpoint.vhostNet,
	}).Info("macvtap endpoint attached")

	return nil
}

// Detach for macvtap endpoint removes the device from the hypervisor and
// closes every descriptor it holds. The descriptors are released and the
// endpoint is detached even when the hypervisor call fails, the failure
// is still returned.
func (endpoint *MacvtapEndpoint) Detach(ctx context.Context, h Hypervisor) (err error) {
	if !endpoint.attached {
		return errors.Wrapf(ErrEndpointDetached, "macvtap endpoint %s", endpoint.Name())
	}

	logger := endpoint.opts.logger
	span, ctx := networkTrace(ctx, logger, "Detach", endpoint)
	defer func() {
		closeSpan(span, err)
		recordDetach(endpoint.Type(), err)
	}()

	var result *multierror.Error

	if err := endpoint.model.Del(ctx, &endpoint.NetPair); err != nil {
		result = multierror.Append(result, err)
	}

	config, err := endpoint.NetworkConfig()
	if err != nil {
		result = multierror.Append(result, err)
	} else if err := h.RemoveDevice(ctx, NetworkDevice{Config: config}, NetDev); err != nil {
		result = multierror.Append(result, newError(ErrHypervisorRejection, err, "could not remove network device %s", config.HostDevName))
	}

	if err := utils.CloseFds(endpoint.VMFds); err != nil {
		result = multierror.Append(result, newError(ErrResourceExhaustion, err, "closing macvtap fds of %s", endpoint.Name()))
	}
	if err := utils.CloseFds(endpoint.VhostFds); err != nil {
		result = multierror.Append(result, newError(ErrResourceExhaustion, err, "closing vhost fds of %s", endpoint.Name()))
	}
	recordQueueFds(-len(endpoint.VMFds), -len(endpoint.VhostFds))

	endpoint.VMFds = nil
	endpoint.VhostFds = nil
	endpoint.attached = false

	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	logger.Info("macvtap endpoint detached")
	return nil
}

// Save snapshots the endpoint. VhostEnabled describes the last attach, it
// is false before the first one.
func (endpoint *MacvtapEndpoint) Save() persistapi.NetworkEndpoint {
	return persistapi.NetworkEndpoint{
		Type: string(endpoint.Type()),

		Macvtap: &persistapi.MacvtapEndpoint{
			NetPair:      saveNetIfPair(&endpoint.NetPair),
			VhostEnabled: endpoint.vhostNet,
		},
	}
}

func loadMacvtapEndpoint(s *persistapi.MacvtapEndpoint, opts ...EndpointOption) (*MacvtapEndpoint, error) {
	pair, err := loadNetIfPair(&s.NetPair)
	if err != nil {
		return nil, err
	}

	endpoint, err := newMacvtapEndpoint(pair, opts)
	if err != nil {
		return nil, err
	}
	endpoint.vhostNet = s.VhostEnabled

	return endpoint, nil
}

func (endpoint *MacvtapEndpoint) isEndpoint() {}
