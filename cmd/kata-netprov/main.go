// Copyright (c) 2014,2015,2016 Docker, Inc.
// Copyright (c) 2017-2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"go.opentelemetry.io/otel/trace"

	"github.com/kata-containers/kata-netprov/pkg/katautils"
	"github.com/kata-containers/kata-netprov/pkg/katautils/katatrace"
	"github.com/kata-containers/kata-netprov/pkg/rootless"
	vc "github.com/kata-containers/kata-netprov/virtcontainers"
)

const name = "kata-netprov"

const (
	configFilePathOption  = "config"
	showConfigPathsOption = "show-default-config-paths"
	metricsTextfileOption = "metrics-textfile"
)

// version is set at build time.
var version = "unknown"

var usage = fmt.Sprintf(`%s network device provisioning tool
%s resolves the network devices of a sandbox, checks the network
configuration and inspects the saved network state.`, name, name)

// kataLog is the logger used to record all messages
var kataLog = logrus.WithFields(logrus.Fields{
	"name":   name,
	"source": "runtime",
	"pid":    os.Getpid(),
})

// defaultOutputFile is the default output file to write the gathered
// information to.
var defaultOutputFile io.Writer = os.Stdout

// defaultErrorFile is the default output file to write error
// messages to.
var defaultErrorFile io.Writer = os.Stderr

// metricsRegisterer and metricsGatherer are replaced by the tests.
var (
	metricsRegisterer prometheus.Registerer = prometheus.DefaultRegisterer
	metricsGatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
)

var runtimeTracingTags = map[string]string{
	"source":    "runtime",
	"subsystem": "cli",
}

// runtimeFlags is the list of supported global command-line flags
var runtimeFlags = []cli.Flag{
	cli.StringFlag{
		Name:  configFilePathOption,
		Usage: name + " config file path",
	},
	cli.StringFlag{
		Name:  "log",
		Usage: "set the log file path where internal debug information is written",
	},
	cli.BoolFlag{
		Name:  "syslog",
		Usage: "also send log entries to the system logger",
	},
	cli.StringFlag{
		Name:  metricsTextfileOption,
		Usage: "write the network metrics to this file, in the Prometheus text format, before exiting",
	},
	cli.BoolFlag{
		Name:  showConfigPathsOption,
		Usage: "show config file paths that will be checked for (in order)",
	},
}

// runtimeCommands is the list of supported command-line (sub-)
// commands.
var runtimeCommands = []cli.Command{
	checkConfigCLICommand,
	inspectCLICommand,
	stateCLICommand,
}

// beforeSubcommands is the function to perform preliminary checks
// before command-line parsing occurs.
func beforeSubcommands(c *cli.Context) error {
	if c.GlobalBool(showConfigPathsOption) {
		for _, file := range katautils.GetDefaultConfigFilePaths() {
			fmt.Fprintf(defaultOutputFile, "%s\n", file)
		}
		exit(0)
		return nil
	}

	if userWantsUsage(c) {
		// No setup required if the user just
		// wants to see the usage statement.
		return nil
	}

	out := defaultErrorFile
	if path := c.GlobalString("log"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0640)
		if err != nil {
			return err
		}
		atexit(func() { f.Close() })
		out = f
	}

	configFile, runtimeConfig, err := katautils.LoadConfiguration(c.GlobalString(configFilePathOption), false)
	if err != nil {
		return err
	}

	kataLog = katautils.SetupLogger(runtimeConfig, out).WithField("source", "runtime")
	rootless.SetLogger(kataLog)

	if c.GlobalBool("syslog") {
		if err := katautils.HandleSystemLog(kataLog, "", ""); err != nil {
			return err
		}
	}

	// Add the name of the sub-command to each log entry for easier
	// debugging.
	cmdName := c.Args().First()
	if c.App.Command(cmdName) != nil {
		kataLog = kataLog.WithField("command", cmdName)
	}

	if err := vc.RegisterMetrics(metricsRegisterer); err != nil {
		return err
	}

	if _, err := katautils.CreateTracer(name, &runtimeConfig); err != nil {
		return err
	}

	// Create the root span now that the sub-command name is known.
	span, ctx := katatrace.Trace(context.Background(), kataLog, name+" "+cmdName, runtimeTracingTags)
	katatrace.AddTags(span, "arguments", strings.Join(c.Args(), " "))

	kataLog.WithFields(logrus.Fields{
		"version":   version,
		"arguments": `"` + strings.Join(c.Args(), " ") + `"`,
	}).Info()

	// make the data accessible to the sub-commands.
	c.App.Metadata["context"] = ctx
	c.App.Metadata["span"] = span
	c.App.Metadata["runtimeConfig"] = runtimeConfig
	c.App.Metadata["configFile"] = configFile

	return nil
}

// afterSubcommands is the function to perform any actions after the
// command-line has been parsed and the sub-command run.
func afterSubcommands(c *cli.Context) error {
	if span, ok := c.App.Metadata["span"].(trace.Span); ok {
		span.End()
	}

	if ctx, ok := c.App.Metadata["context"].(context.Context); ok {
		katautils.StopTracing(ctx)
	}

	if path := c.GlobalString(metricsTextfileOption); path != "" {
		if err := prometheus.WriteToTextfile(path, metricsGatherer); err != nil {
			return err
		}
	}

	return nil
}

// function called when an invalid command is specified which causes the
// runtime to error.
func commandNotFound(c *cli.Context, command string) {
	err := fmt.Errorf("Invalid command %q", command)
	fatal(err)
}

// userWantsUsage determines if the user only wishes to see the usage
// statement.
func userWantsUsage(context *cli.Context) bool {
	if context.NArg() == 0 {
		return true
	}

	if context.NArg() == 1 && (context.Args()[0] == "help" || context.Args()[0] == "version") {
		return true
	}

	if context.NArg() >= 2 && (context.Args()[1] == "-h" || context.Args()[1] == "--help") {
		return true
	}

	return false
}

// createRuntimeApp creates an application to process the command-line
// arguments and invoke the requested command.
func createRuntimeApp(args []string) error {
	app := cli.NewApp()

	app.Name = name
	app.Writer = defaultOutputFile
	app.ErrWriter = defaultErrorFile
	app.Usage = usage
	app.CommandNotFound = commandNotFound
	app.Version = version
	app.Flags = runtimeFlags
	app.Commands = runtimeCommands
	app.Before = beforeSubcommands
	app.After = afterSubcommands
	app.EnableBashCompletion = true
	app.Metadata = map[string]interface{}{}

	return app.Run(args)
}

// getRuntimeConfig returns the configuration loaded before the
// sub-command runs.
func getRuntimeConfig(c *cli.Context) (katautils.RuntimeConfig, error) {
	if c == nil {
		return katautils.RuntimeConfig{}, errors.New("need cli.Context")
	}

	config, ok := c.App.Metadata["runtimeConfig"].(katautils.RuntimeConfig)
	if !ok {
		return katautils.RuntimeConfig{}, errors.New("invalid or missing runtime config in metadata")
	}

	return config, nil
}

// cliContextToContext extracts the generic context from the specified
// cli context.
func cliContextToContext(c *cli.Context) (context.Context, error) {
	if c == nil {
		return nil, errors.New("need cli.Context")
	}

	// extract the main context
	ctx, ok := c.App.Metadata["context"].(context.Context)
	if !ok {
		return nil, errors.New("invalid or missing context in metadata")
	}

	return ctx, nil
}

func main() {
	if err := createRuntimeApp(os.Args); err != nil {
		fatal(err)
	}
	exit(0)
}
