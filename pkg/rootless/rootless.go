// Copyright (c) 2019 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package rootless tells whether the program runs in a user namespace
// where it is root without being root on the host. In that case the
// network state cannot live below /run and is kept in XDG_RUNTIME_DIR.
package rootless

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// checked states whether rootless has been computed yet
	checked bool

	// rootless caches the result of the uid map parsing
	rootless bool

	// lock for checked and rootless
	rLock sync.Mutex

	// XDG_RUNTIME_DIR defines the base directory relative to
	// which user-specific non-essential runtime files are stored.
	rootlessDir = os.Getenv("XDG_RUNTIME_DIR")

	// uidMapPath defines the location of the uid_map file to
	// determine whether a user is root or not
	uidMapPath = "/proc/self/uid_map"

	rootlessLog = logrus.WithField("source", "rootless")
)

// SetLogger sets up a logger for the rootless pkg
func SetLogger(logger *logrus.Entry) {
	rootlessLog = logger.WithField("source", "rootless")
}

// parseUIDMap reports whether one of the mappings of a uid_map file maps
// root of the user namespace to an unprivileged host user.
func parseUIDMap(r io.Reader) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// <ID-inside-ns> <ID-outside-ns> <length>
		ids := strings.Fields(line)
		if len(ids) != 3 {
			return false, errors.Errorf("invalid uid mapping %q", line)
		}

		var values [3]uint64
		for i, id := range ids {
			v, err := strconv.ParseUint(id, 10, 32)
			if err != nil {
				return false, errors.Wrapf(err, "invalid uid mapping %q", line)
			}
			values[i] = v
		}

		userNSUID, hostUID, rangeUID := values[0], values[1], values[2]
		if rangeUID == 0 {
			return false, errors.Errorf("empty uid range in mapping %q", line)
		}

		if userNSUID == 0 && hostUID != 0 {
			return true, nil
		}
	}

	return false, scanner.Err()
}

// IsRootless states whether the program runs rootless. The uid map is
// read once, a map that cannot be parsed means not rootless.
func IsRootless() bool {
	rLock.Lock()
	defer rLock.Unlock()

	if checked {
		return rootless
	}
	checked = true

	f, err := os.Open(uidMapPath)
	if err != nil {
		rootlessLog.WithError(err).Error("Unable to determine if running rootless")
		return false
	}
	defer f.Close()

	rootless, err = parseUIDMap(f)
	if err != nil {
		rootlessLog.WithError(err).WithField("file", uidMapPath).Error("Unable to determine if running rootless")
		rootless = false
		return false
	}

	if rootless {
		rootlessLog.Info("Running as rootless")
	}
	return rootless
}

// GetRootlessDir returns the path to the location for rootless
// network state storage
func GetRootlessDir() string {
	return rootlessDir
}

// StatePath returns path unchanged, or relocated below GetRootlessDir()
// when running rootless with XDG_RUNTIME_DIR set.
func StatePath(path string) string {
	if !IsRootless() || rootlessDir == "" {
		return path
	}
	return filepath.Join(rootlessDir, path)
}
