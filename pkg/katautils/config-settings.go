// Copyright (c) 2018 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Note that some variables are "var" to allow them to be modified
// by the tests.

package katautils

const defaultVCPUCount uint32 = 1
const defaultDisableVhostNet bool = false
const defaultInterNetworkingModel = "tcfilter"
const defaultLogLevel = "warn"
const defaultLogFormat = "text"
const defaultEnableTracing bool = false
const defaultJaegerEndpoint = "http://localhost:14268/api/traces"

// Default config file used by stateless systems.
var defaultRuntimeConfiguration = "/usr/share/defaults/kata-containers/netprov.toml"

// Alternate config file that takes precedence over
// defaultRuntimeConfiguration.
var defaultSysConfRuntimeConfiguration = "/etc/kata-containers/netprov.toml"

var defaultStatePath = "/run/kata-netprov/sbs"

var name = "kata-netprov"
