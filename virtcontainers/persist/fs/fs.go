// Copyright (c) 2016 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package fs

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	persistapi "github.com/kata-containers/kata-netprov/virtcontainers/persist/api"
)

// persistFile is the file name for the JSON network snapshot
const persistFile = "network.json"

// dirMode is the permission bits used for creating a directory
const dirMode = os.FileMode(0700)

// fileMode is the permission bits used for creating a file
const fileMode = os.FileMode(0600)

// DefaultRunStoragePath is the network state directory. It will contain
// one directory, holding network.json, for each sandbox.
const DefaultRunStoragePath = "/run/kata-netprov/sbs"

// FS stores network snapshots on the local filesystem. An FS must not be
// used by several goroutines at once.
type FS struct {
	root     string
	logger   *logrus.Entry
	lockFile *os.File
}

var fsLog = logrus.WithField("source", "virtcontainers/persist/fs")

// Logger returns a logrus logger appropriate for logging Store messages
func (fs *FS) Logger() *logrus.Entry {
	return fs.logger.WithField("subsystem", "persist")
}

// Name returns driver name
func Name() string {
	return "fs"
}

// Init returns a FS driver rooted at root, DefaultRunStoragePath when
// empty. A nil logger selects the package logger.
func Init(root string, logger *logrus.Entry) (*FS, error) {
	if root == "" {
		root = DefaultRunStoragePath
	}

	if !filepath.IsAbs(root) {
		return nil, errors.Errorf("storage path %q must be absolute", root)
	}

	if logger == nil {
		logger = fsLog
	}

	return &FS{
		root:   filepath.Clean(root),
		logger: logger,
	}, nil
}

// Root returns the storage directory of the driver.
func (fs *FS) Root() string {
	return fs.root
}

func (fs *FS) sandboxDir(sid string) (string, error) {
	if sid == "" {
		return "", errors.New("sandbox id required")
	}

	if sid != filepath.Base(sid) || sid == "." || sid == ".." {
		return "", errors.Errorf("invalid sandbox id %q", sid)
	}

	return filepath.Join(fs.root, sid), nil
}

// ToDisk stores the network snapshot of sandbox sid. The previous
// snapshot is replaced atomically.
func (fs *FS) ToDisk(sid string, info persistapi.NetworkInfo) (retErr error) {
	sandboxDir, err := fs.sandboxDir(sid)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(sandboxDir, dirMode); err != nil {
		return errors.Wrapf(err, "creating %s", sandboxDir)
	}

	if err := fs.lock(sandboxDir); err != nil {
		return err
	}
	defer fs.unlock()

	f, err := os.CreateTemp(sandboxDir, persistFile+".*")
	if err != nil {
		return errors.Wrapf(err, "creating snapshot of sandbox %s", sid)
	}

	// if error happened, drop the partial file
	defer func() {
		if retErr != nil {
			f.Close()
			if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
				fs.Logger().WithError(err).Errorf("failed to remove %s", f.Name())
			}
		}
	}()

	if err := f.Chmod(fileMode); err != nil {
		return err
	}

	if err := json.NewEncoder(f).Encode(info); err != nil {
		return errors.Wrapf(err, "encoding snapshot of sandbox %s", sid)
	}

	if err := f.Sync(); err != nil {
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(f.Name(), filepath.Join(sandboxDir, persistFile)); err != nil {
		return errors.Wrapf(err, "storing snapshot of sandbox %s", sid)
	}

	fs.Logger().WithFields(logrus.Fields{
		"sandbox":   sid,
		"endpoints": len(info.Endpoints),
	}).Debug("network state stored")

	return nil
}

// FromDisk restores the network snapshot of sandbox sid.
func (fs *FS) FromDisk(sid string) (persistapi.NetworkInfo, error) {
	var info persistapi.NetworkInfo

	sandboxDir, err := fs.sandboxDir(sid)
	if err != nil {
		return info, err
	}

	if err := fs.lock(sandboxDir); err != nil {
		return info, err
	}
	defer fs.unlock()

	f, err := os.Open(filepath.Join(sandboxDir, persistFile))
	if err != nil {
		return info, errors.Wrapf(err, "opening snapshot of sandbox %s", sid)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&info); err != nil {
		return persistapi.NetworkInfo{}, errors.Wrapf(err, "decoding snapshot of sandbox %s", sid)
	}

	return info, nil
}

// Destroy removes the snapshot of sandbox sid from disk. A sandbox
// without a snapshot is not an error.
func (fs *FS) Destroy(sid string) error {
	sandboxDir, err := fs.sandboxDir(sid)
	if err != nil {
		return err
	}

	if err := fs.lock(sandboxDir); err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil
		}
		return err
	}
	defer fs.unlock()

	return os.RemoveAll(sandboxDir)
}

// List returns the sandboxes with a stored snapshot.
func (fs *FS) List() ([]string, error) {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// if network.json doesn't exist, ignore and go to next
		if _, err := os.Stat(filepath.Join(fs.root, entry.Name(), persistFile)); err != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}

	return ids, nil
}

// lock takes the sandbox lock without waiting: a concurrent user of the
// same sandbox state gets an error instead of blocking the caller, which
// may hold other sandbox resources.
func (fs *FS) lock(sandboxDir string) error {
	f, err := os.Open(sandboxDir)
	if err != nil {
		return err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return errors.Wrapf(err, "locking %s", sandboxDir)
	}
	fs.lockFile = f

	return nil
}

func (fs *FS) unlock() error {
	if fs.lockFile == nil {
		return nil
	}

	lockFile := fs.lockFile
	defer lockFile.Close()
	fs.lockFile = nil
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_UN); err != nil {
		return err
	}

	return nil
}
