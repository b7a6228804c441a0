// Copyright (c) 2016 Intel Corporation
// Copyright (c) 2022 Apple Inc.
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"go.opentelemetry.io/otel/trace"

	"github.com/kata-containers/kata-netprov/pkg/katautils/katatrace"
)

// networkTracingTags defines tags for the trace span
var networkTracingTags = map[string]string{
	"source":    "runtime",
	"package":   "virtcontainers",
	"subsystem": "network",
}

// networkConfigNamespace scopes the name based UUIDs used as network
// device IDs.
var networkConfigNamespace = uuid.MustParse("5b0b3c43-3a39-4d2f-9f69-6f1c2b1f7c11")

// DefaultNetworkLogger returns the logger used when a component is built
// without an explicit one.
func DefaultNetworkLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithFields(logrus.Fields{
		"source":    "virtcontainers",
		"subsystem": "network",
	})
}

// tracedEndpoint is what a span needs to know about an endpoint. The
// shared pair base satisfies it without being a full Endpoint.
type tracedEndpoint interface {
	Name() string
	Type() EndpointType
}

func networkTrace(ctx context.Context, logger *logrus.Entry, name string, endpoint tracedEndpoint) (trace.Span, context.Context) {
	span, ctx := katatrace.Trace(ctx, logger, name, networkTracingTags)
	if endpoint != nil {
		katatrace.AddTags(span, "type", string(endpoint.Type()), "endpoint", endpoint.Name())
	}
	return span, ctx
}

func closeSpan(span trace.Span, err error) {
	if err != nil {
		katatrace.AddTags(span, "error", err.Error())
	}
	span.End()
}

// NetlinkHandle is the subset of *netlink.Handle the network layer needs.
// A handle opened in the sandbox network namespace satisfies it.
type NetlinkHandle interface {
	LinkByIndex(index int) (netlink.Link, error)
	LinkByName(name string) (netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetMaster(link netlink.Link, master netlink.Link) error
	QdiscAdd(qdisc netlink.Qdisc) error
	QdiscDel(qdisc netlink.Qdisc) error
	QdiscList(link netlink.Link) ([]netlink.Qdisc, error)
	FilterAdd(filter netlink.Filter) error
	FilterDel(filter netlink.Filter) error
	FilterList(link netlink.Link, parent uint32) ([]netlink.Filter, error)
}

// NetworkInterface defines a network interface.
type NetworkInterface struct {
	Name     string
	HardAddr string
	MTU      int
}

// NetworkInterfacePair defines a pair between VM and virtual network interfaces.
// TAPIface is the host device handed to the hypervisor, VirtIface is the
// interface the guest sees. The pair is resolved once and only the owning
// model may update it afterwards.
type NetworkInterfacePair struct {
	TAPIface   NetworkInterface
	VirtIface  NetworkInterface
	BridgeName string
	LinkIndex  int
	Queues     int
	NetInterworkingModel
}

// NetworkConfig is what the hypervisor needs to plug one guest NIC. It is
// derived from a NetworkInterfacePair only, so two pairs describing the
// same host topology produce equal configs.
type NetworkConfig struct {
	ID          string
	HostDevName string
	GuestMAC    [6]byte
}

// GuestHardwareAddr returns GuestMAC as a net.HardwareAddr.
func (c NetworkConfig) GuestHardwareAddr() net.HardwareAddr {
	mac := make(net.HardwareAddr, len(c.GuestMAC))
	copy(mac, c.GuestMAC[:])
	return mac
}

// networkConfigFromPair parses the tap hardware address of the pair into
// the fixed width form the hypervisor expects.
func networkConfigFromPair(pair *NetworkInterfacePair) (NetworkConfig, error) {
	if pair == nil {
		return NetworkConfig{}, configurationError(nil, "missing network pair")
	}

	if pair.TAPIface.Name == "" {
		return NetworkConfig{}, configurationError(nil, "missing host device name")
	}

	mac, err := net.ParseMAC(pair.TAPIface.HardAddr)
	if err != nil {
		return NetworkConfig{}, configurationError(err, "invalid hardware address %q for %s",
			pair.TAPIface.HardAddr, pair.TAPIface.Name)
	}

	config := NetworkConfig{HostDevName: pair.TAPIface.Name}
	if len(mac) != len(config.GuestMAC) {
		return NetworkConfig{}, configurationError(nil, "hardware address %q for %s is not an EUI-48 address",
			pair.TAPIface.HardAddr, pair.TAPIface.Name)
	}
	copy(config.GuestMAC[:], mac)
	config.ID = uuid.NewSHA1(networkConfigNamespace, []byte(config.HostDevName+"/"+mac.String())).String()

	return config, nil
}

// NetInterworkingModel defines the network model connecting
// the network interface to the virtual machine.
type NetInterworkingModel int

const (
	// NetXConnectDefaultModel Ask to use DefaultNetInterworkingModel
	NetXConnectDefaultModel NetInterworkingModel = iota

	// NetXConnectMacVtapModel is used by macvtap endpoints: the kernel
	// multiplexes the queues, nothing else is wired on the host.
	NetXConnectMacVtapModel

	// NetXConnectTCFilterModel redirects traffic from the network interface
	// provided by the network plugin to a tap interface.
	// This works for ipvlan and macvlan as well.
	NetXConnectTCFilterModel

	// NetXConnectBridgedModel enslaves the tap and the network interface
	// to a dedicated Linux bridge.
	NetXConnectBridgedModel

	// NetXConnectNoneModel can be used when the VM is in the host network namespace
	NetXConnectNoneModel

	// NetXConnectInvalidModel is the last item to Check valid values by IsValid()
	NetXConnectInvalidModel
)

// IsValid checks if a model is valid
func (n NetInterworkingModel) IsValid() bool {
	return 0 <= int(n) && int(n) < int(NetXConnectInvalidModel)
}

const (
	defaultNetModelStr = "default"

	macvtapNetModelStr = "macvtap"

	tcFilterNetModelStr = "tcfilter"

	bridgedNetModelStr = "bridged"

	noneNetModelStr = "none"
)

// GetModel returns the string value of a NetInterworkingModel
func (n *NetInterworkingModel) GetModel() string {
	switch *n {
	case NetXConnectDefaultModel:
		return defaultNetModelStr
	case NetXConnectMacVtapModel:
		return macvtapNetModelStr
	case NetXConnectTCFilterModel:
		return tcFilterNetModelStr
	case NetXConnectBridgedModel:
		return bridgedNetModelStr
	case NetXConnectNoneModel:
		return noneNetModelStr
	}
	return "unknown"
}

// SetModel change the model string value
func (n *NetInterworkingModel) SetModel(modelName string) error {
	switch modelName {
	case defaultNetModelStr:
		*n = NetXConnectDefaultModel
		return nil
	case macvtapNetModelStr:
		*n = NetXConnectMacVtapModel
		return nil
	case tcFilterNetModelStr:
		*n = NetXConnectTCFilterModel
		return nil
	case bridgedNetModelStr:
		*n = NetXConnectBridgedModel
		return nil
	case noneNetModelStr:
		*n = NetXConnectNoneModel
		return nil
	}
	return fmt.Errorf("Unknown type %s", modelName)
}

// DefaultNetInterworkingModel is a package level default
// that determines how the VM should be connected to the
// the container network interface
var DefaultNetInterworkingModel = NetXConnectTCFilterModel

func resolveInterworkingModel(model NetInterworkingModel) NetInterworkingModel {
	if model == NetXConnectDefaultModel {
		return DefaultNetInterworkingModel
	}
	return model
}
