// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	persistapi "github.com/kata-containers/kata-netprov/virtcontainers/persist/api"
	"github.com/kata-containers/kata-netprov/virtcontainers/utils"
)

// Introduces constants related to networking
const (
	// owner and group read/write only
	defaultFilePerms = unix.S_IRUSR | unix.S_IWUSR | unix.S_IRGRP | unix.S_IWGRP

	defaultTapDevFormat = "/dev/tap%d"
	defaultVhostDev     = "/dev/vhost-net"
)

var _ NetlinkHandle = (*netlink.Handle)(nil)

// openDeviceFile is replaced by tests to observe every descriptor opened.
var openDeviceFile = os.OpenFile

func createMacvtapFds(ctx context.Context, tapDevFormat string, linkIndex int, queues int) ([]*os.File, error) {
	tapDev := fmt.Sprintf(tapDevFormat, linkIndex)
	return createFds(ctx, tapDev, queues)
}

func createVhostFds(ctx context.Context, vhostDev string, numFds int) ([]*os.File, error) {
	return createFds(ctx, vhostDev, numFds)
}

// createFds opens numFds independent descriptors on device, one per queue.
// It either returns all of them or none: on failure, including the
// cancellation of ctx, every descriptor opened by this call is closed
// before returning.
func createFds(ctx context.Context, device string, numFds int) ([]*os.File, error) {
	if numFds < 1 {
		return nil, configurationError(nil, "invalid queue count %d for %s", numFds, device)
	}

	fds := make([]*os.File, numFds)

	for i := 0; i < numFds; i++ {
		if err := ctx.Err(); err != nil {
			utils.CleanupFds(fds, i)
			return nil, errors.Wrapf(err, "opening %s", device)
		}

		f, err := openDeviceFile(device, os.O_RDWR|os.O_CREATE|unix.O_CLOEXEC, defaultFilePerms)
		if err != nil {
			utils.CleanupFds(fds, i)
			return nil, newError(ErrResourceExhaustion, err, "could not open %s (queue %d of %d)", device, i, numFds)
		}
		fds[i] = f
	}
	return fds, nil
}

// LinuxNetworkConfig describes the network namespace of a sandbox.
type LinuxNetworkConfig struct {
	NetNSPath         string
	NetNSCreated      bool
	InterworkingModel NetInterworkingModel
}

// LinuxNetwork represents a sandbox networking setup.
type LinuxNetwork struct {
	netNSPath         string
	eps               []Endpoint
	interworkingModel NetInterworkingModel
	netNSCreated      bool
	logger            *logrus.Entry
}

// NewNetwork creates a new Linux Network from a LinuxNetworkConfig.
func NewNetwork(config *LinuxNetworkConfig, logger *logrus.Entry) (*LinuxNetwork, error) {
	if config == nil {
		return nil, configurationError(nil, "Missing network configuration")
	}

	if !config.InterworkingModel.IsValid() {
		return nil, configurationError(nil, "invalid internetworking model %d", int(config.InterworkingModel))
	}

	if logger == nil {
		logger = DefaultNetworkLogger()
	}

	return &LinuxNetwork{
		netNSPath:         config.NetNSPath,
		interworkingModel: resolveInterworkingModel(config.InterworkingModel),
		netNSCreated:      config.NetNSCreated,
		logger:            logger.WithField("netns", config.NetNSPath),
	}, nil
}

// LoadNetwork rebuilds a network and its endpoints from a snapshot. The
// endpoints are detached: AttachEndpoints provisions new descriptors. opts
// apply to every restored endpoint.
func LoadNetwork(netInfo persistapi.NetworkInfo, handle NetlinkHandle, logger *logrus.Entry, opts ...EndpointOption) (*LinuxNetwork, error) {
	var model NetInterworkingModel
	if netInfo.InterworkingModel != "" {
		if err := model.SetModel(netInfo.InterworkingModel); err != nil {
			return nil, configurationError(err, "invalid saved internetworking model")
		}
	}

	n, err := NewNetwork(&LinuxNetworkConfig{
		NetNSPath:         netInfo.NetNsPath,
		NetNSCreated:      netInfo.NetNsCreated,
		InterworkingModel: model,
	}, logger)
	if err != nil {
		return nil, err
	}

	for _, e := range netInfo.Endpoints {
		ep, err := RestoreEndpoint(e, handle, append([]EndpointOption{WithLogger(n.logger)}, opts...)...)
		if err != nil {
			return nil, err
		}
		n.eps = append(n.eps, ep)
	}

	return n, nil
}

// NetworkID returns the network namespace path.
func (n *LinuxNetwork) NetworkID() string {
	return n.netNSPath
}

func (n *LinuxNetwork) NetworkCreated() bool {
	return n.netNSCreated
}

// InterworkingModel returns the model used for veth and ipvlan endpoints.
func (n *LinuxNetwork) InterworkingModel() NetInterworkingModel {
	return n.interworkingModel
}

func (n *LinuxNetwork) Endpoints() []Endpoint {
	return n.eps
}

// NetlinkHandle opens a netlink handle bound to the sandbox network
// namespace, or to the current one when the network has no namespace.
// The caller closes it.
func (n *LinuxNetwork) NetlinkHandle() (*netlink.Handle, error) {
	if n.netNSPath == "" {
		handle, err := netlink.NewHandle()
		if err != nil {
			return nil, netlinkError(err, "could not open netlink handle")
		}
		return handle, nil
	}

	netnsHandle, err := netns.GetFromPath(n.netNSPath)
	if err != nil {
		return nil, netlinkError(err, "could not open network namespace %s", n.netNSPath)
	}
	defer netnsHandle.Close()

	handle, err := netlink.NewHandleAt(netnsHandle)
	if err != nil {
		return nil, netlinkError(err, "could not open netlink handle in %s", n.netNSPath)
	}
	return handle, nil
}

// Run runs a callback in the sandbox network namespace.
func (n *LinuxNetwork) Run(ctx context.Context, cb func() error) error {
	return doNetNS(n.netNSPath, func(_ ns.NetNS) error {
		return cb()
	})
}

// AddEndpoints attaches eps to the hypervisor concurrently. When one of
// them fails, the endpoints attached by this call are detached again and
// the first error is returned.
func (n *LinuxNetwork) AddEndpoints(ctx context.Context, h Hypervisor, eps []Endpoint) error {
	span, ctx := networkTrace(ctx, n.logger, "AddEndpoints", nil)
	var err error
	defer func() { closeSpan(span, err) }()

	for i, ep := range eps {
		if _, idx := findEndpoint(ep, n.eps); idx >= 0 {
			err = configurationError(nil, "endpoint %s (%s) is already part of the network", ep.Name(), ep.HardwareAddr())
			return err
		}
		if _, idx := findEndpoint(ep, eps[:i]); idx >= 0 {
			err = configurationError(nil, "endpoint %s (%s) is listed twice", ep.Name(), ep.HardwareAddr())
			return err
		}
	}

	if err = n.attachAll(ctx, h, eps); err != nil {
		return err
	}

	n.eps = append(n.eps, eps...)
	return nil
}

// AttachEndpoints attaches the detached endpoints already part of the
// network, such as the ones rebuilt by LoadNetwork. Their descriptors are
// provisioned again. On failure the endpoints attached by this call are
// detached again and stay members of the network.
func (n *LinuxNetwork) AttachEndpoints(ctx context.Context, h Hypervisor) error {
	span, ctx := networkTrace(ctx, n.logger, "AttachEndpoints", nil)
	var err error
	defer func() { closeSpan(span, err) }()

	var detached []Endpoint
	for _, ep := range n.eps {
		if !ep.Attached() {
			detached = append(detached, ep)
		}
	}

	err = n.attachAll(ctx, h, detached)
	return err
}

// attachAll attaches eps concurrently, each inside the network namespace.
// When one fails, the ones that succeeded are detached in reverse order
// and the first error is returned.
func (n *LinuxNetwork) attachAll(ctx context.Context, h Hypervisor, eps []Endpoint) error {
	attached := make([]bool, len(eps))

	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range eps {
		i, ep := i, ep
		g.Go(func() error {
			if err := n.Run(gctx, func() error {
				return ep.Attach(gctx, h)
			}); err != nil {
				return errors.Wrapf(err, "attaching endpoint %s", ep.Name())
			}
			attached[i] = true
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		return nil
	}

	for i := len(eps) - 1; i >= 0; i-- {
		if !attached[i] {
			continue
		}
		ep := eps[i]
		if detachErr := n.Run(ctx, func() error {
			return ep.Detach(context.WithoutCancel(ctx), h)
		}); detachErr != nil {
			n.logger.WithError(detachErr).WithField("endpoint", ep.Name()).Error("Could not detach endpoint after failure")
		}
	}

	return err
}

// RemoveEndpoints detaches every attached endpoint of the network and
// forgets about all of them. All failures are reported.
func (n *LinuxNetwork) RemoveEndpoints(ctx context.Context, h Hypervisor) error {
	span, ctx := networkTrace(ctx, n.logger, "RemoveEndpoints", nil)
	var result *multierror.Error
	defer func() { closeSpan(span, result.ErrorOrNil()) }()

	for i := len(n.eps) - 1; i >= 0; i-- {
		ep := n.eps[i]
		if !ep.Attached() {
			continue
		}
		if err := n.Run(ctx, func() error {
			return ep.Detach(ctx, h)
		}); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "detaching endpoint %s", ep.Name()))
		}
	}

	n.eps = nil
	return result.ErrorOrNil()
}

// Save snapshots the network and its endpoints.
func (n *LinuxNetwork) Save() persistapi.NetworkInfo {
	info := persistapi.NetworkInfo{
		NetNsPath:         n.netNSPath,
		NetNsCreated:      n.netNSCreated,
		InterworkingModel: n.interworkingModel.GetModel(),
	}

	for _, ep := range n.eps {
		info.Endpoints = append(info.Endpoints, ep.Save())
	}

	return info
}

// doNetNS is free from any call to a go routine, and it calls
// into runtime.LockOSThread(), meaning it won't be executed in a
// different thread than the one expected by the caller.
func doNetNS(netNSPath string, cb func(ns.NetNS) error) error {
	// if netNSPath is empty, the callback function will be run in the current network namespace.
	// So skip the whole function, just call cb(). cb() needs a NetNS as arg but ignored, give it a fake one.
	if netNSPath == "" {
		var netNs ns.NetNS
		return cb(netNs)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	currentNS, err := ns.GetCurrentNS()
	if err != nil {
		return err
	}
	defer currentNS.Close()

	targetNS, err := ns.GetNS(netNSPath)
	if err != nil {
		return err
	}
	defer targetNS.Close()

	if err := targetNS.Set(); err != nil {
		return err
	}
	defer currentNS.Set()

	return cb(targetNS)
}
