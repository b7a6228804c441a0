// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ktu "github.com/kata-containers/kata-netprov/pkg/katatestutils"
	persistapi "github.com/kata-containers/kata-netprov/virtcontainers/persist/api"
	"github.com/kata-containers/kata-netprov/virtcontainers/persist/fs"
)

// runApp runs the program with args and returns what it printed.
func runApp(t *testing.T, args ...string) (string, error) {
	savedOut, savedErr := defaultOutputFile, defaultErrorFile
	savedRegisterer, savedGatherer := metricsRegisterer, metricsGatherer
	t.Cleanup(func() {
		defaultOutputFile, defaultErrorFile = savedOut, savedErr
		metricsRegisterer, metricsGatherer = savedRegisterer, savedGatherer
	})

	out := &bytes.Buffer{}
	defaultOutputFile = out
	defaultErrorFile = &bytes.Buffer{}

	reg := prometheus.NewRegistry()
	metricsRegisterer = reg
	metricsGatherer = reg

	err := createRuntimeApp(append([]string{name}, args...))
	return out.String(), err
}

func createTestConfig(t *testing.T, statePath string) string {
	configPath := filepath.Join(t.TempDir(), "netprov.toml")
	data := ktu.MakeRuntimeConfigFileData(ktu.RuntimeConfigOptions{
		DefaultVCPUCount:     1,
		InterNetworkingModel: "macvtap",
		LogLevel:             "error",
		LogFormat:            "json",
		StatePath:            statePath,
	})
	require.NoError(t, os.WriteFile(configPath, []byte(data), 0640))
	return configPath
}

func TestCheckConfig(t *testing.T) {
	assert := assert.New(t)

	statePath := filepath.Join(t.TempDir(), "sbs")
	configPath := createTestConfig(t, statePath)

	out, err := runApp(t, "--config", configPath, "check-config")
	assert.NoError(err)

	var report configReport
	_, err = toml.Decode(out, &report)
	assert.NoError(err)

	resolved, err := filepath.EvalSymlinks(configPath)
	assert.NoError(err)
	assert.Equal(resolved, report.ConfigFile)
	assert.Equal(uint32(1), report.Hypervisor.NumVCPUs)
	assert.Equal("macvtap", report.Network.InterworkingModel)
	assert.Equal("error", report.Runtime.LogLevel)
	assert.Equal("json", report.Runtime.LogFormat)
	assert.Equal(statePath, report.Runtime.StatePath)
	assert.False(report.Runtime.Trace)
	assert.Empty(report.Runtime.JaegerEndpoint)
}

func TestCheckConfigInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "netprov.toml")
	data := ktu.MakeRuntimeConfigFileData(ktu.RuntimeConfigOptions{
		InterNetworkingModel: "enlightened",
	})
	require.NoError(t, os.WriteFile(configPath, []byte(data), 0640))

	_, err := runApp(t, "--config", configPath, "check-config")
	assert.Error(t, err)

	_, err = runApp(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "check-config")
	assert.Error(t, err)
}

func TestStateCommand(t *testing.T) {
	assert := assert.New(t)

	statePath := filepath.Join(t.TempDir(), "sbs")
	configPath := createTestConfig(t, statePath)

	store, err := fs.Init(statePath, nil)
	require.NoError(t, err)

	info := persistapi.NetworkInfo{
		NetNsPath:         "/var/run/netns/sb1",
		InterworkingModel: "macvtap",
		Endpoints: []persistapi.NetworkEndpoint{
			{
				Type: "macvtap",
				Macvtap: &persistapi.MacvtapEndpoint{
					NetPair: persistapi.NetworkInterfacePair{
						TAPIface:             persistapi.NetworkInterface{Name: "macvtap0", HardAddr: "02:00:ca:fe:00:03"},
						VirtIface:            persistapi.NetworkInterface{Name: "eth0", HardAddr: "02:00:ca:fe:00:03"},
						LinkIndex:            3,
						Queues:               4,
						NetInterworkingModel: 1,
					},
					VhostEnabled: true,
				},
			},
		},
	}
	require.NoError(t, store.ToDisk("sb1", info))

	out, err := runApp(t, "--config", configPath, "state")
	assert.NoError(err)
	assert.Equal("sb1", strings.TrimSpace(out))

	out, err = runApp(t, "--config", configPath, "state", "--sandbox-id", "sb1")
	assert.NoError(err)

	var saved persistapi.NetworkInfo
	assert.NoError(json.Unmarshal([]byte(out), &saved))
	assert.Equal(info, saved)

	_, err = runApp(t, "--config", configPath, "state", "--sandbox-id", "sb2")
	assert.Error(err)

	_, err = runApp(t, "--config", configPath, "state", "--delete")
	assert.Error(err)

	_, err = runApp(t, "--config", configPath, "state", "--sandbox-id", "sb1", "--delete")
	assert.NoError(err)

	ids, err := store.List()
	assert.NoError(err)
	assert.Empty(ids)
}

func TestInspectMissingLinkIndex(t *testing.T) {
	configPath := createTestConfig(t, filepath.Join(t.TempDir(), "sbs"))

	_, err := runApp(t, "--config", configPath, "inspect", "--name", "eth0")
	assert.Error(t, err)
}

func TestMetricsTextfile(t *testing.T) {
	configPath := createTestConfig(t, filepath.Join(t.TempDir(), "sbs"))
	metricsPath := filepath.Join(t.TempDir(), "kata-netprov.prom")

	_, err := runApp(t, "--config", configPath, "--"+metricsTextfileOption, metricsPath, "check-config")
	assert.NoError(t, err)
	assert.FileExists(t, metricsPath)
}

func TestUserWantsUsage(t *testing.T) {
	out, err := runApp(t)
	assert.NoError(t, err)
	assert.Contains(t, out, name)
}
