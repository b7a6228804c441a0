// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/kata-containers/kata-netprov/virtcontainers/utils"
)

// tcFilterModel creates a tap device next to the container interface and
// redirects the ingress traffic of each one to the other with tc.
type tcFilterModel struct {
	handle NetlinkHandle
	logger *logrus.Entry
}

func (m *tcFilterModel) Type() NetInterworkingModel {
	return NetXConnectTCFilterModel
}

func (m *tcFilterModel) Add(ctx context.Context, pair *NetworkInterfacePair) (err error) {
	m.logger.WithField("tap", pair.TAPIface.Name).Info("connect TCFilter to VM network")

	link, err := getLinkByName(m.handle, pair.VirtIface.Name)
	if err != nil {
		return err
	}

	tapLink, err := createTapLink(m.handle, pair.TAPIface.Name, pair.Queues)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			if delErr := m.handle.LinkDel(tapLink); delErr != nil {
				m.logger.WithError(delErr).WithField("tap", pair.TAPIface.Name).Warn("Could not remove TAP after failure")
			}
			if delErr := m.removeRedirectTCFilter(link); delErr != nil {
				m.logger.WithError(delErr).Warn("Could not remove filters after failure")
			}
			if delErr := m.removeQdiscIngress(link); delErr != nil {
				m.logger.WithError(delErr).Warn("Could not remove qdisc after failure")
			}
		}
	}()

	attrs := link.Attrs()
	if err = m.handle.LinkSetMTU(tapLink, attrs.MTU); err != nil {
		return netlinkError(err, "Could not set TAP MTU %d", attrs.MTU)
	}

	if err = m.handle.LinkSetUp(tapLink); err != nil {
		return netlinkError(err, "Could not enable TAP %s", pair.TAPIface.Name)
	}

	tapIndex := tapLink.Attrs().Index

	if err = m.addQdiscIngress(tapIndex); err != nil {
		return err
	}

	if err = m.addQdiscIngress(attrs.Index); err != nil {
		return err
	}

	if err = m.addRedirectTCFilter(attrs.Index, tapIndex); err != nil {
		return err
	}

	return m.addRedirectTCFilter(tapIndex, attrs.Index)
}

func (m *tcFilterModel) Del(ctx context.Context, pair *NetworkInterfacePair) error {
	var result *multierror.Error

	tapLink, err := getLinkByName(m.handle, pair.TAPIface.Name)
	if err != nil {
		result = multierror.Append(result, err)
	} else {
		if err := m.handle.LinkSetDown(tapLink); err != nil {
			result = multierror.Append(result, netlinkError(err, "Could not disable TAP %s", pair.TAPIface.Name))
		}
		if err := m.handle.LinkDel(tapLink); err != nil {
			result = multierror.Append(result, netlinkError(err, "Could not remove TAP %s", pair.TAPIface.Name))
		}
	}

	link, err := getLinkByName(m.handle, pair.VirtIface.Name)
	if err != nil {
		return multierror.Append(result, err).ErrorOrNil()
	}

	if err := m.removeRedirectTCFilter(link); err != nil {
		result = multierror.Append(result, err)
	}

	if err := m.removeQdiscIngress(link); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (m *tcFilterModel) isNetworkModel() {}

// addQdiscIngress creates a new qdisc for network interface with the specified network index
// on "ingress". qdiscs normally don't work on ingress so this is really a special qdisc
// that you can consider an "alternate root" for inbound packets.
// Handle for ingress qdisc defaults to "ffff:"
//
// This is equivalent to calling `tc qdisc add dev eth0 ingress`
func (m *tcFilterModel) addQdiscIngress(index int) error {
	qdisc := &netlink.Ingress{
		QdiscAttrs: netlink.QdiscAttrs{
			LinkIndex: index,
			Parent:    netlink.HANDLE_INGRESS,
		},
	}

	if err := m.handle.QdiscAdd(qdisc); err != nil {
		return netlinkError(err, "Failed to add qdisc for network index %d", index)
	}

	return nil
}

// addRedirectTCFilter adds a tc filter for device with index "sourceIndex".
// All traffic for interface with index "sourceIndex" is redirected to interface with
// index "destIndex"
//
// This is equivalent to calling:
// `tc filter add dev source parent ffff: protocol all u32 match u8 0 0 action mirred egress redirect dev dest`
func (m *tcFilterModel) addRedirectTCFilter(sourceIndex, destIndex int) error {
	filter := &netlink.U32{
		FilterAttrs: netlink.FilterAttrs{
			LinkIndex: sourceIndex,
			Parent:    netlink.MakeHandle(0xffff, 0),
			Protocol:  unix.ETH_P_ALL,
		},
		Actions: []netlink.Action{
			&netlink.MirredAction{
				ActionAttrs: netlink.ActionAttrs{
					Action: netlink.TC_ACT_STOLEN,
				},
				MirredAction: netlink.TCA_EGRESS_REDIR,
				Ifindex:      destIndex,
			},
		},
	}

	if err := m.handle.FilterAdd(filter); err != nil {
		return netlinkError(err, "Failed to add filter for index %d", sourceIndex)
	}

	return nil
}

// removeRedirectTCFilter removes all tc u32 filters created on ingress qdisc for "link".
func (m *tcFilterModel) removeRedirectTCFilter(link netlink.Link) error {
	// Handle 0xffff is used for ingress
	filters, err := m.handle.FilterList(link, netlink.MakeHandle(0xffff, 0))
	if err != nil {
		return netlinkError(err, "Could not list filters of %s", link.Attrs().Name)
	}

	for _, f := range filters {
		u32, ok := f.(*netlink.U32)
		if !ok {
			continue
		}

		if err := m.handle.FilterDel(u32); err != nil {
			return netlinkError(err, "Could not remove filter of %s", link.Attrs().Name)
		}
	}
	return nil
}

// removeQdiscIngress removes the ingress qdisc previously created on "link".
func (m *tcFilterModel) removeQdiscIngress(link netlink.Link) error {
	qdiscs, err := m.handle.QdiscList(link)
	if err != nil {
		return netlinkError(err, "Could not list qdiscs of %s", link.Attrs().Name)
	}

	for _, qdisc := range qdiscs {
		ingress, ok := qdisc.(*netlink.Ingress)
		if !ok {
			continue
		}

		if err := m.handle.QdiscDel(ingress); err != nil {
			return netlinkError(err, "Could not remove qdisc of %s", link.Attrs().Name)
		}
	}
	return nil
}

// bridgedModel plugs the tap and the container interface into a
// dedicated bridge.
type bridgedModel struct {
	handle NetlinkHandle
	logger *logrus.Entry
}

func (m *bridgedModel) Type() NetInterworkingModel {
	return NetXConnectBridgedModel
}

func (m *bridgedModel) Add(ctx context.Context, pair *NetworkInterfacePair) (err error) {
	m.logger.WithFields(logrus.Fields{
		"tap":    pair.TAPIface.Name,
		"bridge": pair.BridgeName,
	}).Info("connect bridge to VM network")

	if pair.BridgeName == "" {
		return configurationError(nil, "missing bridge name for %s", pair.VirtIface.Name)
	}

	link, err := getLinkByName(m.handle, pair.VirtIface.Name)
	if err != nil {
		return err
	}
	attrs := link.Attrs()

	bridgeAttrs := netlink.NewLinkAttrs()
	bridgeAttrs.Name = pair.BridgeName
	bridgeAttrs.MTU = attrs.MTU
	newBridge := &netlink.Bridge{LinkAttrs: bridgeAttrs}
	if err = m.handle.LinkAdd(newBridge); err != nil {
		return netlinkError(err, "Could not create bridge %s", pair.BridgeName)
	}

	// links are removed by name when their index is unknown
	created := []netlink.Link{newBridge}
	defer func() {
		if err != nil {
			for i := len(created) - 1; i >= 0; i-- {
				if delErr := m.handle.LinkDel(created[i]); delErr != nil {
					m.logger.WithError(delErr).WithField("link", created[i].Attrs().Name).Warn("Could not remove link after failure")
				}
			}
		}
	}()

	bridge, err := m.handle.LinkByName(pair.BridgeName)
	if err != nil {
		return netlinkError(err, "Could not get bridge %s", pair.BridgeName)
	}
	created[0] = bridge

	tapLink, err := createTapLink(m.handle, pair.TAPIface.Name, pair.Queues)
	if err != nil {
		return err
	}
	created = append(created, tapLink)

	if err = m.handle.LinkSetMTU(tapLink, attrs.MTU); err != nil {
		return netlinkError(err, "Could not set TAP MTU %d", attrs.MTU)
	}

	for _, l := range []netlink.Link{tapLink, link} {
		if err = m.handle.LinkSetMaster(l, bridge); err != nil {
			return netlinkError(err, "Could not attach %s to bridge %s", l.Attrs().Name, pair.BridgeName)
		}
	}

	for _, l := range []netlink.Link{tapLink, bridge, link} {
		if err = m.handle.LinkSetUp(l); err != nil {
			return netlinkError(err, "Could not enable %s", l.Attrs().Name)
		}
	}

	return nil
}

func (m *bridgedModel) Del(ctx context.Context, pair *NetworkInterfacePair) error {
	var result *multierror.Error

	for _, name := range []string{pair.TAPIface.Name, pair.BridgeName} {
		l, err := getLinkByName(m.handle, name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := m.handle.LinkDel(l); err != nil {
			result = multierror.Append(result, netlinkError(err, "Could not remove %s", name))
		}
	}

	return result.ErrorOrNil()
}

func (m *bridgedModel) isNetworkModel() {}

// createTapLink creates a persistent, multi queue when queues > 1, tap
// device. The queue descriptors returned by the kernel are released right
// away: the hypervisor reopens the device by name.
func createTapLink(handle NetlinkHandle, name string, queues int) (netlink.Link, error) {
	flags := netlink.TUNTAP_VNET_HDR | netlink.TUNTAP_NO_PI
	if queues > 1 {
		flags |= netlink.TUNTAP_MULTI_QUEUE_DEFAULTS
	} else {
		// netlink only returns the tap descriptors when queues is
		// non zero.
		queues = 1
	}

	tap := &netlink.Tuntap{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		Mode:      netlink.TUNTAP_MODE_TAP,
		Queues:    queues,
		Flags:     flags,
	}

	if err := handle.LinkAdd(tap); err != nil {
		return nil, netlinkError(err, "Could not create TAP interface %s", name)
	}
	utils.CleanupFds(tap.Fds, len(tap.Fds))

	return getLinkByName(handle, name)
}

func getLinkByName(handle NetlinkHandle, name string) (netlink.Link, error) {
	link, err := handle.LinkByName(name)
	if err != nil {
		return nil, netlinkError(err, "LinkByName() failed for %s", name)
	}
	return link, nil
}
