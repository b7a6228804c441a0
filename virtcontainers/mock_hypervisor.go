// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MockHypervisor is an in-memory Hypervisor keeping the list of network
// devices it was asked to register. It is safe for concurrent use.
type MockHypervisor struct {
	config HypervisorConfig

	mu          sync.Mutex
	devices     []NetworkDevice
	addCalls    int
	removeCalls int
	addErr      error
	removeErr   error
}

// NewMockHypervisor returns a MockHypervisor advertising config.
func NewMockHypervisor(config HypervisorConfig) *MockHypervisor {
	return &MockHypervisor{config: config}
}

func (m *MockHypervisor) HypervisorConfig() HypervisorConfig {
	return m.config
}

// SetAddDeviceError makes every following AddDevice call fail with err.
func (m *MockHypervisor) SetAddDeviceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addErr = err
}

// SetRemoveDeviceError makes every following RemoveDevice call fail with err.
func (m *MockHypervisor) SetRemoveDeviceError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeErr = err
}

func (m *MockHypervisor) AddDevice(ctx context.Context, devInfo interface{}, devType DeviceType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addCalls++

	dev, err := mockNetworkDevice(devInfo, devType)
	if err != nil {
		return err
	}

	if m.addErr != nil {
		return m.addErr
	}

	m.devices = append(m.devices, dev)
	return nil
}

func (m *MockHypervisor) RemoveDevice(ctx context.Context, devInfo interface{}, devType DeviceType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeCalls++

	dev, err := mockNetworkDevice(devInfo, devType)
	if err != nil {
		return err
	}

	if m.removeErr != nil {
		return m.removeErr
	}

	for i, d := range m.devices {
		if d.Config == dev.Config {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return nil
		}
	}

	return errors.Wrapf(ErrDeviceNotFound, "device %s (%s)", dev.Config.ID, dev.Config.HostDevName)
}

// Devices returns a copy of the registered devices, in registration order.
func (m *MockHypervisor) Devices() []NetworkDevice {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]NetworkDevice, len(m.devices))
	copy(devices, m.devices)
	return devices
}

// Calls returns how many AddDevice and RemoveDevice calls were made.
func (m *MockHypervisor) Calls() (add int, remove int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCalls, m.removeCalls
}

func mockNetworkDevice(devInfo interface{}, devType DeviceType) (NetworkDevice, error) {
	if devType != NetDev {
		return NetworkDevice{}, errors.Errorf("unsupported device type %s", devType)
	}

	switch dev := devInfo.(type) {
	case NetworkDevice:
		return dev, nil
	case *NetworkDevice:
		if dev != nil {
			return *dev, nil
		}
	}

	return NetworkDevice{}, errors.Errorf("invalid network device %T", devInfo)
}
