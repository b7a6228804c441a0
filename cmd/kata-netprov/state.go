// Copyright (c) 2014,2015,2016 Docker, Inc.
// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/kata-containers/kata-netprov/virtcontainers/persist/fs"
)

var stateCLICommand = cli.Command{
	Name:  "state",
	Usage: "output the saved network state of a sandbox, or list the sandboxes with a saved state",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "sandbox-id",
			Usage: "sandbox to show, all sandboxes are listed when unset",
		},
		cli.BoolFlag{
			Name:  "delete",
			Usage: "delete the saved state of the sandbox",
		},
	},
	Action: func(c *cli.Context) error {
		config, err := getRuntimeConfig(c)
		if err != nil {
			return err
		}

		store, err := fs.Init(config.StatePath, kataLog)
		if err != nil {
			return err
		}

		sandboxID := c.String("sandbox-id")
		if sandboxID == "" {
			if c.Bool("delete") {
				return errors.New("--delete needs --sandbox-id")
			}
			return listSandboxes(store)
		}

		if c.Bool("delete") {
			if err := store.Destroy(sandboxID); err != nil {
				return err
			}
			kataLog.WithField("sandbox", sandboxID).Info("network state deleted")
			return nil
		}

		info, err := store.FromDisk(sandboxID)
		if os.IsNotExist(errors.Cause(err)) {
			return fmt.Errorf("no network state for sandbox %s", sandboxID)
		}
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding network state")
		}

		fmt.Fprintln(defaultOutputFile, string(data))
		return nil
	},
}

func listSandboxes(store *fs.FS) error {
	ids, err := store.List()
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Fprintln(defaultOutputFile, id)
	}
	return nil
}
