// Copyright (c) 2017-2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"github.com/BurntSushi/toml"
	"github.com/urfave/cli"

	"github.com/kata-containers/kata-netprov/pkg/rootless"
)

type hypervisorReport struct {
	NumVCPUs        uint32
	DisableVhostNet bool
}

type networkReport struct {
	InterworkingModel string
	NetNSPath         string
}

type runtimeReport struct {
	LogLevel       string
	LogFormat      string
	StatePath      string
	Rootless       bool
	Trace          bool
	JaegerEndpoint string `toml:",omitempty"`
}

// configReport is the resolved configuration, as check-config prints it.
type configReport struct {
	ConfigFile string
	Hypervisor hypervisorReport
	Network    networkReport
	Runtime    runtimeReport
}

var checkConfigCLICommand = cli.Command{
	Name:  "check-config",
	Usage: "validate the configuration file and show the resolved settings",
	Action: func(c *cli.Context) error {
		config, err := getRuntimeConfig(c)
		if err != nil {
			return err
		}

		configFile, _ := c.App.Metadata["configFile"].(string)

		report := configReport{
			ConfigFile: configFile,
			Hypervisor: hypervisorReport{
				NumVCPUs:        config.HypervisorConfig.NumVCPUs,
				DisableVhostNet: config.HypervisorConfig.DisableVhostNet,
			},
			Network: networkReport{
				InterworkingModel: config.InterNetworkModel.GetModel(),
				NetNSPath:         config.NetNSPath,
			},
			Runtime: runtimeReport{
				LogLevel:  config.LogLevel.String(),
				LogFormat: config.LogFormat,
				StatePath: config.StatePath,
				Rootless:  rootless.IsRootless(),
				Trace:     config.Trace,
			},
		}

		if config.Trace {
			report.Runtime.JaegerEndpoint = config.JaegerEndpoint
		}

		kataLog.WithField("file", configFile).Info("configuration is valid")

		return toml.NewEncoder(defaultOutputFile).Encode(report)
	},
}
