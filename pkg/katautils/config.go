// Copyright (c) 2018 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//

package katautils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/kata-containers/kata-netprov/pkg/katautils/katatrace"
	"github.com/kata-containers/kata-netprov/pkg/rootless"
	vc "github.com/kata-containers/kata-netprov/virtcontainers"
)

var (
	// if true, enable opentelemetry support.
	tracing = false
)

// The TOML configuration file contains a number of sections (or
// tables):
//
//	[hypervisor]
//	[network]
//	[runtime]
//
// Every key is optional, missing keys take their default value.
type tomlConfig struct {
	Hypervisor hypervisor
	Network    network
	Runtime    runtime
}

type hypervisor struct {
	NumVCPUs        int32 `toml:"default_vcpus"`
	DisableVhostNet bool  `toml:"disable_vhost_net"`
}

type network struct {
	InterNetworkModel string `toml:"internetworking_model"`
	NetNSPath         string `toml:"netns_path"`
}

type runtime struct {
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	StatePath      string `toml:"state_path"`
	Tracing        bool   `toml:"enable_tracing"`
	JaegerEndpoint string `toml:"jaeger_endpoint"`
	JaegerUser     string `toml:"jaeger_user"`
	JaegerPassword string `toml:"jaeger_password"`
}

// RuntimeConfig aggregates all runtime specific settings
type RuntimeConfig struct {
	HypervisorConfig vc.HypervisorConfig

	InterNetworkModel vc.NetInterworkingModel
	NetNSPath         string

	LogLevel  logrus.Level
	LogFormat string
	StatePath string

	Trace          bool
	JaegerEndpoint string
	JaegerUser     string
	JaegerPassword string
}

// defaultVCPUs returns the queue count of macvtap endpoints. A count
// larger than the host CPUs is capped.
func (h hypervisor) defaultVCPUs() (uint32, error) {
	numCPUs := goruntime.NumCPU()

	if h.NumVCPUs < 0 {
		return 0, fmt.Errorf("invalid default_vcpus %d", h.NumVCPUs)
	}
	if h.NumVCPUs == 0 { // or unspecified
		return defaultVCPUCount, nil
	}
	if h.NumVCPUs > int32(numCPUs) {
		return uint32(numCPUs), nil
	}

	return uint32(h.NumVCPUs), nil
}

func (n network) interNetworkModel() (vc.NetInterworkingModel, error) {
	var model vc.NetInterworkingModel

	m := n.InterNetworkModel
	if m == "" {
		m = defaultInterNetworkingModel
	}

	if err := model.SetModel(m); err != nil {
		return vc.NetXConnectInvalidModel, err
	}

	return model, nil
}

func (r runtime) logLevel() (logrus.Level, error) {
	l := r.LogLevel
	if l == "" {
		l = defaultLogLevel
	}

	return logrus.ParseLevel(l)
}

func (r runtime) logFormat() (string, error) {
	f := r.LogFormat
	if f == "" {
		return defaultLogFormat, nil
	}

	switch f {
	case "text", "json":
		return f, nil
	}

	return "", fmt.Errorf("Invalid log format %q (supported formats: text, json)", f)
}

func (r runtime) statePath() (string, error) {
	p := r.StatePath
	if p == "" {
		return rootless.StatePath(defaultStatePath), nil
	}

	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("state_path %q must be absolute", p)
	}

	return filepath.Clean(p), nil
}

func (r runtime) jaegerEndpoint() string {
	if r.JaegerEndpoint == "" {
		return defaultJaegerEndpoint
	}

	return r.JaegerEndpoint
}

func initConfig() RuntimeConfig {
	return RuntimeConfig{
		HypervisorConfig: vc.HypervisorConfig{
			NumVCPUs:        defaultVCPUCount,
			DisableVhostNet: defaultDisableVhostNet,
		},
		InterNetworkModel: vc.NetXConnectTCFilterModel,
		LogLevel:          logrus.WarnLevel,
		LogFormat:         defaultLogFormat,
		StatePath:         rootless.StatePath(defaultStatePath),
		Trace:             defaultEnableTracing,
		JaegerEndpoint:    defaultJaegerEndpoint,
	}
}

func updateRuntimeConfig(configPath string, tomlConf tomlConfig, config *RuntimeConfig) error {
	numVCPUs, err := tomlConf.Hypervisor.defaultVCPUs()
	if err != nil {
		return fmt.Errorf("%v: %v", configPath, err)
	}

	config.HypervisorConfig = vc.HypervisorConfig{
		NumVCPUs:        numVCPUs,
		DisableVhostNet: tomlConf.Hypervisor.DisableVhostNet,
	}

	model, err := tomlConf.Network.interNetworkModel()
	if err != nil {
		return fmt.Errorf("%v: %v", configPath, err)
	}
	config.InterNetworkModel = model
	config.NetNSPath = tomlConf.Network.NetNSPath

	if config.LogLevel, err = tomlConf.Runtime.logLevel(); err != nil {
		return fmt.Errorf("%v: %v", configPath, err)
	}

	if config.LogFormat, err = tomlConf.Runtime.logFormat(); err != nil {
		return fmt.Errorf("%v: %v", configPath, err)
	}

	if config.StatePath, err = tomlConf.Runtime.statePath(); err != nil {
		return fmt.Errorf("%v: %v", configPath, err)
	}

	config.Trace = tomlConf.Runtime.Tracing
	config.JaegerEndpoint = tomlConf.Runtime.jaegerEndpoint()
	config.JaegerUser = tomlConf.Runtime.JaegerUser
	config.JaegerPassword = tomlConf.Runtime.JaegerPassword

	return nil
}

// LoadConfiguration loads the configuration file and converts it into a
// runtime configuration.
//
// If ignoreLogging is true, the system logger will not be initialised nor
// will this function make any log calls.
//
// All paths are resolved fully meaning if this function does not return an
// error, all paths are valid at the time of the call.
func LoadConfiguration(configPath string, ignoreLogging bool) (resolvedConfigPath string, config RuntimeConfig, err error) {
	var resolved string

	config = initConfig()

	if configPath == "" {
		resolved, err = getDefaultConfigFile()
	} else {
		resolved, err = ResolvePath(configPath)
	}

	if err != nil {
		return "", config, fmt.Errorf("Cannot find usable config file (%v)", err)
	}

	configData, err := os.ReadFile(resolved)
	if err != nil {
		return "", config, err
	}

	var tomlConf tomlConfig
	if _, err = toml.Decode(string(configData), &tomlConf); err != nil {
		return "", config, err
	}

	if err := updateRuntimeConfig(resolved, tomlConf, &config); err != nil {
		return "", config, err
	}

	tracing = config.Trace
	katatrace.SetTracing(config.Trace)

	if !ignoreLogging {
		kataUtilsLogger.Logger.SetLevel(config.LogLevel)
		kataUtilsLogger.WithFields(
			logrus.Fields{
				"format": "TOML",
				"file":   resolved,
			}).Info("loaded configuration")
	}

	if err := checkConfig(config); err != nil {
		return "", config, err
	}

	return resolved, config, nil
}

// checkConfig checks the specified config is valid.
func checkConfig(config RuntimeConfig) error {
	if err := checkHypervisorConfig(config.HypervisorConfig); err != nil {
		return err
	}

	return checkNetNsConfig(config)
}

func checkHypervisorConfig(config vc.HypervisorConfig) error {
	if config.NumVCPUs == 0 {
		return errors.New("Missing vCPU count: a macvtap device needs one queue per vCPU")
	}

	return nil
}

func checkNetNsConfig(config RuntimeConfig) error {
	if config.NetNSPath == "" {
		return nil
	}

	if !filepath.IsAbs(config.NetNSPath) {
		return fmt.Errorf("netns_path %q must be absolute", config.NetNSPath)
	}

	if config.InterNetworkModel == vc.NetXConnectNoneModel {
		return errors.New("config netns_path does not work with 'none' internetworking_model")
	}

	return nil
}

// GetDefaultConfigFilePaths returns a list of paths that will be
// considered as configuration files in priority order.
func GetDefaultConfigFilePaths() []string {
	return []string{
		// normally below "/etc"
		defaultSysConfRuntimeConfiguration,

		// normally below "/usr/share"
		defaultRuntimeConfiguration,
	}
}

// Return the path to the fully-resolved config file or an error if no
// config file can be found.
func getDefaultConfigFile() (string, error) {
	var errs []string

	for _, file := range GetDefaultConfigFilePaths() {
		resolved, err := ResolvePath(file)
		if err == nil {
			return resolved, nil
		}
		s := fmt.Sprintf("config file %q unresolvable: %v", file, err)
		errs = append(errs, s)
	}

	return "", errors.New(strings.Join(errs, ", "))
}

// SetConfigOptions will override some of the defaults settings.
func SetConfigOptions(n, runtimeConfig, sysRuntimeConfig string) {
	if n != "" {
		name = n
	}

	if runtimeConfig != "" {
		defaultRuntimeConfiguration = runtimeConfig
	}

	if sysRuntimeConfig != "" {
		defaultSysConfRuntimeConfiguration = sysRuntimeConfig
	}
}
