// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package virtcontainers

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds returned by endpoints, models and the fd provisioning layer.
// Match them with errors.Is, the returned errors carry the failing
// device path or interface name and wrap the underlying cause.
var (
	ErrConfiguration       = errors.New("invalid network configuration")
	ErrResourceExhaustion  = errors.New("could not provision device descriptors")
	ErrHypervisorRejection = errors.New("hypervisor rejected network device")
	ErrNetlink             = errors.New("netlink request failed")

	ErrEndpointAttached = errors.New("endpoint is already attached")
	ErrEndpointDetached = errors.New("endpoint is not attached")
	ErrDeviceNotFound   = errors.New("network device not found")
)

type networkError struct {
	kind  error
	cause error
	msg   string
}

func (e *networkError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.msg, e.kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.msg, e.kind, e.cause)
}

func (e *networkError) Is(target error) bool {
	return target == e.kind
}

func (e *networkError) Unwrap() error {
	return e.cause
}

// newError builds an error of the given kind. cause may be nil.
func newError(kind, cause error, format string, args ...interface{}) error {
	return errors.WithStack(&networkError{
		kind:  kind,
		cause: cause,
		msg:   fmt.Sprintf(format, args...),
	})
}

func configurationError(cause error, format string, args ...interface{}) error {
	return newError(ErrConfiguration, cause, format, args...)
}

func netlinkError(cause error, format string, args ...interface{}) error {
	return newError(ErrNetlink, cause, format, args...)
}
