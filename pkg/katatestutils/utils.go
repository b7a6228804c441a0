// Copyright (c) 2018-2019 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//

package katatestutils

import "strconv"

type RuntimeConfigOptions struct {
	DefaultVCPUCount     int32
	InterNetworkingModel string
	NetNSPath            string
	LogLevel             string
	LogFormat            string
	StatePath            string
	JaegerEndpoint       string
	DisableVhostNet      bool
	RuntimeTrace         bool
}

func MakeRuntimeConfigFileData(config RuntimeConfigOptions) string {
	return `
	# Runtime configuration file

	[hypervisor]
	default_vcpus = ` + strconv.FormatInt(int64(config.DefaultVCPUCount), 10) + `
	disable_vhost_net = ` + strconv.FormatBool(config.DisableVhostNet) + `

	[network]
	internetworking_model = "` + config.InterNetworkingModel + `"
	netns_path = "` + config.NetNSPath + `"

	[runtime]
	log_level = "` + config.LogLevel + `"
	log_format = "` + config.LogFormat + `"
	state_path = "` + config.StatePath + `"
	enable_tracing = ` + strconv.FormatBool(config.RuntimeTrace) + `
	jaeger_endpoint = "` + config.JaegerEndpoint + `"`
}
