// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"fmt"
	"os"
	"sync"
)

// cleanups holds the work to undo before the process terminates, such as
// closing the log file. It runs last registered first.
type cleanups struct {
	sync.Mutex
	funcs []func()
}

func (c *cleanups) push(f func()) {
	c.Lock()
	defer c.Unlock()
	c.funcs = append(c.funcs, f)
}

func (c *cleanups) run() {
	c.Lock()
	funcs := c.funcs
	c.funcs = nil
	c.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		funcs[i]()
	}
}

var pending cleanups

// osExit is swapped by the tests.
var osExit = os.Exit

func atexit(f func()) {
	pending.push(f)
}

func exit(status int) {
	pending.run()
	osExit(status)
}

// fatal logs err, echoes it on the error output and exits with status 1.
func fatal(err error) {
	kataLog.WithError(err).Error("command failed")
	fmt.Fprintf(defaultErrorFile, "%s: %v\n", name, err)
	exit(1)
}
