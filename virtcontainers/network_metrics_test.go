// Copyright (c) 2020 Ant Financial
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetrics(t *testing.T) {
	assert := assert.New(t)
	reg := prometheus.NewRegistry()

	assert.NoError(RegisterMetrics(reg))
	// registering again is harmless
	assert.NoError(RegisterMetrics(reg))

	recordAttach(IPVlanEndpointType, nil)

	families, err := reg.Gather()
	assert.NoError(err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(names["kata_network_endpoint_attach_total"])
}

func TestRecordMetrics(t *testing.T) {
	assert := assert.New(t)

	success := testutil.ToFloat64(endpointDetach.WithLabelValues(string(VethEndpointType), resultSuccess))
	failure := testutil.ToFloat64(endpointDetach.WithLabelValues(string(VethEndpointType), resultFailure))

	recordDetach(VethEndpointType, nil)
	recordDetach(VethEndpointType, errors.New("device busy"))
	recordDetach(VethEndpointType, errors.New("device busy"))

	assert.Equal(success+1, testutil.ToFloat64(endpointDetach.WithLabelValues(string(VethEndpointType), resultSuccess)))
	assert.Equal(failure+2, testutil.ToFloat64(endpointDetach.WithLabelValues(string(VethEndpointType), resultFailure)))

	vm := testutil.ToFloat64(endpointQueueFds.WithLabelValues("vm"))
	recordQueueFds(4, 4)
	recordQueueFds(-4, -4)
	assert.Equal(vm, testutil.ToFloat64(endpointQueueFds.WithLabelValues("vm")))
}
