// Copyright (c) 2020 Ant Financial
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespaceNetwork = "kata_network"

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	endpointAttach = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceNetwork,
		Name:      "endpoint_attach_total",
		Help:      "Endpoint attach operations.",
	},
		[]string{"type", "result"},
	)

	endpointDetach = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespaceNetwork,
		Name:      "endpoint_detach_total",
		Help:      "Endpoint detach operations.",
	},
		[]string{"type", "result"},
	)

	endpointQueueFds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespaceNetwork,
		Name:      "queue_fds",
		Help:      "Queue descriptors currently held by attached endpoints.",
	},
		[]string{"kind"},
	)
)

// RegisterMetrics registers the network collectors on reg. Collectors
// already registered are left in place.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{endpointAttach, endpointDetach, endpointQueueFds} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func recordAttach(endpointType EndpointType, err error) {
	endpointAttach.WithLabelValues(string(endpointType), result(err)).Inc()
}

func recordDetach(endpointType EndpointType, err error) {
	endpointDetach.WithLabelValues(string(endpointType), result(err)).Inc()
}

func recordQueueFds(vmFds, vhostFds int) {
	endpointQueueFds.WithLabelValues("vm").Add(float64(vmFds))
	endpointQueueFds.WithLabelValues("vhost").Add(float64(vhostFds))
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}
