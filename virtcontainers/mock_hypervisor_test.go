// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func newTestNetworkDevice(name string) NetworkDevice {
	return NetworkDevice{
		Config: NetworkConfig{
			ID:          "id-" + name,
			HostDevName: name,
			GuestMAC:    [6]byte{0x02, 0x00, 0xca, 0xfe, 0x00, 0x01},
		},
		VMFds: []uintptr{10, 11},
	}
}

func TestMockHypervisorConfig(t *testing.T) {
	config := HypervisorConfig{NumVCPUs: 4, DisableVhostNet: true}
	m := NewMockHypervisor(config)
	assert.Equal(t, config, m.HypervisorConfig())
}

func TestMockHypervisorAddRemoveDevice(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m := NewMockHypervisor(HypervisorConfig{NumVCPUs: 1})
	dev := newTestNetworkDevice("tap0")

	assert.NoError(m.AddDevice(ctx, dev, NetDev))
	// adding twice registers a second NIC
	assert.NoError(m.AddDevice(ctx, &dev, NetDev))
	assert.Len(m.Devices(), 2)

	assert.NoError(m.RemoveDevice(ctx, dev, NetDev))
	assert.Len(m.Devices(), 1)
	assert.NoError(m.RemoveDevice(ctx, dev, NetDev))
	assert.Empty(m.Devices())

	err := m.RemoveDevice(ctx, dev, NetDev)
	assert.True(errors.Is(err, ErrDeviceNotFound), "%v", err)

	add, remove := m.Calls()
	assert.Equal(2, add)
	assert.Equal(3, remove)
}

func TestMockHypervisorInvalidDevice(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m := NewMockHypervisor(HypervisorConfig{NumVCPUs: 1})

	assert.Error(m.AddDevice(ctx, newTestNetworkDevice("tap0"), DeviceType(42)))
	assert.Error(m.AddDevice(ctx, "tap0", NetDev))

	var dev *NetworkDevice
	assert.Error(m.AddDevice(ctx, dev, NetDev))
	assert.Empty(m.Devices())
}

func TestMockHypervisorInjectedErrors(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	m := NewMockHypervisor(HypervisorConfig{NumVCPUs: 1})
	dev := newTestNetworkDevice("tap0")

	addErr := errors.New("no free PCI slot")
	m.SetAddDeviceError(addErr)
	assert.Equal(addErr, m.AddDevice(ctx, dev, NetDev))
	assert.Empty(m.Devices())

	m.SetAddDeviceError(nil)
	assert.NoError(m.AddDevice(ctx, dev, NetDev))

	removeErr := errors.New("device busy")
	m.SetRemoveDeviceError(removeErr)
	assert.Equal(removeErr, m.RemoveDevice(ctx, dev, NetDev))
	assert.Len(m.Devices(), 1)
}

func TestDeviceTypeString(t *testing.T) {
	assert.Equal(t, "net", NetDev.String())
	assert.Equal(t, "unknown(42)", DeviceType(42).String())
}
