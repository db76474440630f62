// SPDX-License-Identifier: Apache-2.0
/*
 * nstar: archive files into and out of running containers
 * Copyright (C) 2016-2025 SUSE LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package main is the cli implementation of nstar.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/urfave/cli"
	"go.podman.io/storage/pkg/reexec"

	"github.com/opencontainers/nstar"
)

const usage = `nstar streams archives into and out of running containers

nstar opens the archive tool and the namespaces of <pid> on the host, enters
the container, creates <destination> owned by <user> and runs the tool there
as <user>. With a [path to compress] the tool writes an archive of that path
to stdout, otherwise it extracts an archive read from stdin.`

const metaConfig = "--config"

func init() {
	reexec.Register(nstar.JoinCommand, joinMain)
}

// Main is the underlying main() implementation. You can call this directly as
// though it were the command-line arguments of the nstar binary (this is
// needed for the coverage hack in main_test.go).
func Main(args []string) error {
	app := cli.NewApp()
	app.Name = "nstar"
	app.Usage = usage
	app.ArgsUsage = "<tar path> <pid> <user> <destination> [path to compress]"
	app.Version = nstar.FullVersion()

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "alias for --log=info",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "set the log level (debug, info, [warn], error, fatal)",
			Value: "warn",
		},
	}

	app.Metadata = map[string]any{}

	app.Before = func(ctx *cli.Context) error {
		log.SetHandler(logcli.New(os.Stderr))

		if ctx.GlobalBool("verbose") {
			if ctx.GlobalIsSet("log") {
				return errors.New("--log=* and --verbose are mutually exclusive")
			}
			if err := ctx.GlobalSet("log", "info"); err != nil {
				// Should _never_ be reached.
				return fmt.Errorf("[internal error] failure auto-setting --log=info: %w", err)
			}
		}
		level, err := log.ParseLevel(ctx.GlobalString("log"))
		if err != nil {
			return fmt.Errorf("parsing log level: %w", err)
		}
		log.SetLevel(level)
		// The join stage has no flags of its own.
		if err := os.Setenv(nstar.EnvLogLevel, level.String()); err != nil {
			return fmt.Errorf("pass log level to join stage: %w", err)
		}

		cfg, err := nstar.ParseArgs(ctx.Args())
		if err != nil {
			return err
		}
		ctx.App.Metadata[metaConfig] = cfg
		return nil
	}

	app.Action = hostStage

	err := app.Run(args)
	if err != nil {
		if errors.Is(err, nstar.ErrUsage) {
			log.Warnf("usage: %s %s", app.Name, app.ArgsUsage)
		}
		log.Debugf("%+v", err)
	}
	return err
}

// hostStage acquires the host handles and hands over to the join stage. It
// only returns on failure.
func hostStage(ctx *cli.Context) (Err error) {
	cfg, ok := ctx.App.Metadata[metaConfig].(nstar.Config)
	if !ok {
		return errors.New("[internal error] arguments were not parsed")
	}

	acq, err := nstar.Acquire(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := acq.Handles.Close(); err != nil {
			log.Warnf("close host handles: %v", err)
		}
	}()

	log.WithFields(log.Fields{
		"pid":         cfg.PID,
		"user":        cfg.User,
		"destination": cfg.Destination,
		"mode":        cfg.Mode(),
	}).Debugf("entering container")
	return nstar.Reexec(cfg, acq)
}

func main() {
	// The join stage runs here and never returns.
	if reexec.Init() {
		return
	}
	if err := Main(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}
