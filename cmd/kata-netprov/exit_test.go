// Copyright (c) 2017 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mockExit(t *testing.T) *int {
	status := -1
	saved := osExit
	osExit = func(code int) { status = code }
	t.Cleanup(func() { osExit = saved })
	return &status
}

func TestExitRunsCleanupsInReverse(t *testing.T) {
	assert := assert.New(t)
	status := mockExit(t)

	var order []int
	atexit(func() { order = append(order, 1) })
	atexit(func() { order = append(order, 2) })

	exit(3)
	assert.Equal(3, *status)
	assert.Equal([]int{2, 1}, order)

	// handlers run once
	exit(0)
	assert.Equal([]int{2, 1}, order)
}

func TestFatal(t *testing.T) {
	assert := assert.New(t)
	status := mockExit(t)

	saved := defaultErrorFile
	defer func() { defaultErrorFile = saved }()
	errOut := &bytes.Buffer{}
	defaultErrorFile = errOut

	fatal(errors.New("no such link"))

	assert.Equal(1, *status)
	assert.Equal(name+": no such link\n", errOut.String())
}

func TestShowDefaultConfigPaths(t *testing.T) {
	assert := assert.New(t)
	status := mockExit(t)

	out, err := runApp(t, "--show-default-config-paths")
	assert.NoError(err)
	assert.Equal(0, *status)
	assert.NotEmpty(out)
}
