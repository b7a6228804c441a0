// Copyright (c) 2018 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//

package katautils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type testData struct {
	network     string
	raddr       string
	expectError bool
}

func init() {
	// Ensure all log levels are logged
	kataUtilsLogger.Logger.Level = logrus.DebugLevel

	// Discard log output
	kataUtilsLogger.Logger.Out = io.Discard
}

func TestHandleSystemLogInvalid(t *testing.T) {
	assert := assert.New(t)

	data := []testData{
		{"invalid-net-type", "999.999.999.999", true},
		{"invalid net-type", "a a ", true},
		{"invalid-net-type", ".", true},
		{"moo", "999.999.999.999", true},
		{"moo", "999.999.999.999:99999999999999999", true},
		{"qwerty", "uiop:ftw!", true},
	}

	logger := logrus.NewEntry(logrus.New())

	for _, d := range data {
		err := HandleSystemLog(logger, d.network, d.raddr)
		if d.expectError {
			assert.Error(err, fmt.Sprintf("%+v", d))
		} else {
			assert.NoError(err, fmt.Sprintf("%+v", d))
		}
	}
}

func TestSetupLoggerJSON(t *testing.T) {
	assert := assert.New(t)
	saved := kataUtilsLogger
	defer func() { kataUtilsLogger = saved }()

	var buf bytes.Buffer
	config := initConfig()
	config.LogFormat = "json"
	config.LogLevel = logrus.InfoLevel

	logger := SetupLogger(config, &buf)
	logger.WithField("endpoint", "eth0").Info("attached")
	logger.Debug("not shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(lines, 1)

	var fields map[string]interface{}
	assert.NoError(json.Unmarshal([]byte(lines[0]), &fields))
	assert.Equal("attached", fields["msg"])
	assert.Equal("eth0", fields["endpoint"])
	assert.Equal(name, fields["name"])
	assert.Equal("info", fields["level"])
	assert.Contains(fields, "pid")
	assert.Contains(fields, "time")
}

func TestSetupLoggerText(t *testing.T) {
	assert := assert.New(t)
	saved := kataUtilsLogger
	defer func() { kataUtilsLogger = saved }()

	var buf bytes.Buffer
	config := initConfig()

	logger := SetupLogger(config, &buf)
	logger.Info("not shown")
	logger.Warn("wibble")

	out := buf.String()
	assert.NotContains(out, "not shown")
	assert.Contains(out, "msg=wibble")
	assert.Contains(out, "name="+name)

	// the package logger follows the program one
	assert.Equal(logger.Logger, kataUtilsLogger.Logger)
	assert.Equal("katautils", kataUtilsLogger.Data["source"])
}

func TestHandleSystemLog(t *testing.T) {
	assert := assert.New(t)

	sock := filepath.Join(t.TempDir(), "log.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Skipf("cannot listen on %s: %v", sock, err)
	}
	defer conn.Close()

	config := initConfig()
	config.LogFormat = "json"
	logger := SetupLogger(config, io.Discard)

	assert.NoError(HandleSystemLog(logger, "unixgram", sock))
	logger.WithField("endpoint", "eth0").Error("attach failed")

	assert.NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	assert.NoError(err)

	msg := string(buf[:n])
	assert.Contains(msg, SYSLOGTAG)
	// text, not json
	assert.Contains(msg, `msg="attach failed"`)
	assert.Contains(msg, "endpoint=eth0")
}
