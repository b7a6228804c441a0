// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"
)

// DeviceType describes a virtualized device type.
type DeviceType int

const (
	// NetDev is the network device type.
	NetDev DeviceType = iota
)

func (t DeviceType) String() string {
	switch t {
	case NetDev:
		return "net"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// HypervisorConfig is the part of the hypervisor configuration the
// network layer depends on.
type HypervisorConfig struct {
	// NumVCPUs specifies default number of vCPUs for the VM.
	// One queue is provisioned per vCPU.
	NumVCPUs uint32

	// DisableVhostNet is used to indicate if host supports vhost_net
	DisableVhostNet bool
}

// Hypervisor is the gateway through which network devices reach the
// virtual machine monitor. Implementations must serialize their own
// AddDevice and RemoveDevice calls: endpoints of one sandbox are attached
// concurrently.
//
// AddDevice is not idempotent, a second call with the same device
// registers a second guest NIC. RemoveDevice of a device that is not
// registered returns an error matching ErrDeviceNotFound.
type Hypervisor interface {
	HypervisorConfig() HypervisorConfig
	AddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) error
	RemoveDevice(ctx context.Context, devInfo interface{}, devType DeviceType) error
}

// NetworkDevice is handed to the hypervisor for NetDev devices. The
// descriptors are passed by numeric value: the endpoint keeps owning the
// underlying files and closes them on detach.
type NetworkDevice struct {
	Config   NetworkConfig
	VMFds    []uintptr
	VhostFds []uintptr
}
