//go:build linux

// Copyright (c) 2019-2022 Alibaba Cloud
// Copyright (c) 2019-2022 Ant Group
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"

	"github.com/sirupsen/logrus"
)

// NetworkModel wires a NetworkInterfacePair into the host network
// topology. The set of models is closed, see NewNetworkModel. Callers
// invoke Add and Del for every model, including the ones that have
// nothing to do.
type NetworkModel interface {
	Type() NetInterworkingModel
	Add(ctx context.Context, pair *NetworkInterfacePair) error
	Del(ctx context.Context, pair *NetworkInterfacePair) error

	isNetworkModel()
}

// NewNetworkModel returns the model implementing t. NetXConnectDefaultModel
// resolves to DefaultNetInterworkingModel.
func NewNetworkModel(t NetInterworkingModel, handle NetlinkHandle, logger *logrus.Entry) (NetworkModel, error) {
	if logger == nil {
		logger = DefaultNetworkLogger()
	}

	t = resolveInterworkingModel(t)
	logger = logger.WithField("network-model", t.GetModel())

	switch t {
	case NetXConnectMacVtapModel:
		return &macvtapModel{}, nil
	case NetXConnectNoneModel:
		return &noneModel{}, nil
	case NetXConnectTCFilterModel, NetXConnectBridgedModel:
		if handle == nil {
			return nil, configurationError(nil, "network model %s requires a netlink handle", t.GetModel())
		}
		if t == NetXConnectTCFilterModel {
			return &tcFilterModel{handle: handle, logger: logger}, nil
		}
		return &bridgedModel{handle: handle, logger: logger}, nil
	case NetXConnectDefaultModel, NetXConnectInvalidModel:
	}

	return nil, configurationError(nil, "invalid internetworking model %d", int(t))
}

// macvtapModel needs no host wiring: the macvtap device already
// multiplexes the parent interface into per queue taps.
type macvtapModel struct{}

func (m *macvtapModel) Type() NetInterworkingModel {
	return NetXConnectMacVtapModel
}

func (m *macvtapModel) Add(ctx context.Context, pair *NetworkInterfacePair) error {
	return nil
}

func (m *macvtapModel) Del(ctx context.Context, pair *NetworkInterfacePair) error {
	return nil
}

func (m *macvtapModel) isNetworkModel() {}

// noneModel is used when the VM runs in the host network namespace.
type noneModel struct{}

func (m *noneModel) Type() NetInterworkingModel {
	return NetXConnectNoneModel
}

func (m *noneModel) Add(ctx context.Context, pair *NetworkInterfacePair) error {
	return nil
}

func (m *noneModel) Del(ctx context.Context, pair *NetworkInterfacePair) error {
	return nil
}

func (m *noneModel) isNetworkModel() {}
