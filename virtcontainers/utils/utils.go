// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package utils

import (
	"os"

	"github.com/hashicorp/go-multierror"
)

// CleanupFds closed bundles of open fds in batch
func CleanupFds(fds []*os.File, numFds int) {
	maxFds := len(fds)

	if numFds < maxFds {
		maxFds = numFds
	}

	for i := 0; i < maxFds; i++ {
		if fds[i] == nil {
			continue
		}
		_ = fds[i].Close()
	}
}

// CloseFds closes every file in fds and reports all the failures.
func CloseFds(fds []*os.File) error {
	var result *multierror.Error

	for _, f := range fds {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// FdValues returns the numeric descriptors backing fds. Ownership of the
// files stays with the caller.
func FdValues(fds []*os.File) []uintptr {
	if len(fds) == 0 {
		return nil
	}

	values := make([]uintptr, 0, len(fds))
	for _, f := range fds {
		values = append(values, f.Fd())
	}

	return values
}
