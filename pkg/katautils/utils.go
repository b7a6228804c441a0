// Copyright (c) 2018 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//

package katautils

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ResolvePath returns the absolute, symlink free form of path, which must
// name an existing regular file.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path must be specified")
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(absolute)
	if os.IsNotExist(err) {
		return "", errors.Errorf("file %v does not exist", absolute)
	}
	if err != nil {
		return "", err
	}

	st, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !st.Mode().IsRegular() {
		return "", errors.Errorf("%v is not a regular file", resolved)
	}

	return resolved, nil
}
