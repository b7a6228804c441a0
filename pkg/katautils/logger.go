// Copyright (c) 2018 Intel Corporation
// Copyright (c) 2018 HyperHQ Inc.
//
// SPDX-License-Identifier: Apache-2.0
//

package katautils

import (
	"io"
	"os"
	"log/syslog"
	"time"

	"github.com/sirupsen/logrus"
	lSyslog "github.com/sirupsen/logrus/hooks/syslog"
)

var kataUtilsLogger = logrus.NewEntry(logrus.New())

// SYSLOGTAG is for a consistently named syslog identifier
const SYSLOGTAG = "kata-netprov"

// SetLogger sets the logger of the package.
func SetLogger(logger *logrus.Entry) {
	kataUtilsLogger = logger.WithField("source", "katautils")
}

// SetupLogger returns the root entry of the program, writing to out with
// the level and format of config. Every entry carries the program name and
// pid.
func SetupLogger(config RuntimeConfig, out io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(config.LogLevel)

	switch config.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano})
	}

	entry := logger.WithFields(logrus.Fields{
		"name": name,
		"pid":  os.Getpid(),
	})

	SetLogger(entry)

	return entry
}

// sysLogHook forwards entries to the system logger. They are always
// formatted as text, whatever the format of the main logger.
type sysLogHook struct {
	shook     *lSyslog.SyslogHook
	formatter logrus.Formatter
}

func (h *sysLogHook) Levels() []logrus.Level {
	return h.shook.Levels()
}

func (h *sysLogHook) Fire(e *logrus.Entry) error {
	line, err := h.formatter.Format(e)
	if err != nil {
		return err
	}

	msg := string(line)
	w := h.shook.Writer

	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return w.Crit(msg)
	case logrus.ErrorLevel:
		return w.Err(msg)
	case logrus.WarnLevel:
		return w.Warning(msg)
	case logrus.InfoLevel:
		return w.Info(msg)
	default:
		return w.Debug(msg)
	}
}

func newSystemLogHook(network, raddr string) (*sysLogHook, error) {
	hook, err := lSyslog.NewSyslogHook(network, raddr, syslog.LOG_INFO, SYSLOGTAG)
	if err != nil {
		return nil, err
	}

	return &sysLogHook{
		shook: hook,
		formatter: &logrus.TextFormatter{
			DisableColors:   true,
			TimestampFormat: time.RFC3339Nano,
		},
	}, nil
}

// HandleSystemLog sets up the system-level logger on logger. Empty network
// and raddr select the local syslog daemon.
func HandleSystemLog(logger *logrus.Entry, network, raddr string) error {
	hook, err := newSystemLogHook(network, raddr)
	if err != nil {
		return err
	}

	logger.Logger.AddHook(hook)

	return nil
}
