// Copyright (c) 2018 Huawei Corporation.
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/kata-containers/kata-netprov/pkg/katautils/katatrace"
	vc "github.com/kata-containers/kata-netprov/virtcontainers"
	persistapi "github.com/kata-containers/kata-netprov/virtcontainers/persist/api"
)

// inspectReport describes a resolved macvtap endpoint. No descriptor is
// opened to build it.
type inspectReport struct {
	ID          string
	HostDevName string
	GuestMAC    string
	Queues      int
	State       persistapi.NetworkEndpoint
}

var inspectCLICommand = cli.Command{
	Name:  "inspect",
	Usage: "resolve a macvtap link of the sandbox network namespace and show the device the hypervisor would get",
	Flags: []cli.Flag{
		cli.IntFlag{
			Name:  "link-index",
			Usage: "index of the macvtap link",
		},
		cli.StringFlag{
			Name:  "name",
			Value: "eth0",
			Usage: "name of the interface in the guest",
		},
		cli.IntFlag{
			Name:  "queues",
			Usage: "number of queues, the configured vCPU count when unset",
		},
	},
	Action: func(c *cli.Context) error {
		config, err := getRuntimeConfig(c)
		if err != nil {
			return err
		}

		ctx, err := cliContextToContext(c)
		if err != nil {
			return err
		}

		span, _ := katatrace.Trace(ctx, kataLog, "inspect", runtimeTracingTags)
		defer span.End()

		linkIndex := c.Int("link-index")
		if linkIndex <= 0 {
			return fmt.Errorf("missing or invalid --link-index %d", linkIndex)
		}

		katatrace.AddTags(span, "link-index", linkIndex)

		queues := c.Int("queues")
		if queues == 0 {
			queues = int(config.HypervisorConfig.NumVCPUs)
		}

		n, err := vc.NewNetwork(&vc.LinuxNetworkConfig{
			NetNSPath:         config.NetNSPath,
			InterworkingModel: config.InterNetworkModel,
		}, kataLog)
		if err != nil {
			return err
		}

		handle, err := n.NetlinkHandle()
		if err != nil {
			return err
		}
		defer handle.Close()

		endpoint, err := vc.NewMacvtapEndpoint(handle, c.String("name"), linkIndex, queues, vc.WithLogger(kataLog))
		if err != nil {
			return err
		}

		return printInspectReport(endpoint)
	},
}

func printInspectReport(endpoint vc.Endpoint) error {
	netConfig, err := endpoint.NetworkConfig()
	if err != nil {
		return err
	}

	report := inspectReport{
		ID:          netConfig.ID,
		HostDevName: netConfig.HostDevName,
		GuestMAC:    netConfig.GuestHardwareAddr().String(),
		Queues:      endpoint.NetworkPair().Queues,
		State:       endpoint.Save(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding endpoint report")
	}

	fmt.Fprintln(defaultOutputFile, string(data))
	return nil
}
