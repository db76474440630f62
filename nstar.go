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

// Package nstar copies file trees into and out of running containers. A
// privileged host process opens everything it needs from the host, joins the
// target container's user and mount namespaces, creates the destination
// directory with the container user's ownership, drops to that user for good
// and finally becomes the archive tool, executed through the handle it opened
// on the host.
//
// The work is split over two process images of the same process. The host
// stage (Acquire, Reexec) opens the handles and re-executes nstar; the join
// stage (Resume, Joiner.Join) is where the namespaces are entered. See
// pkg/nsenter for why the split is needed.
package nstar

import (
	"fmt"
	"strconv"

	"github.com/opencontainers/nstar/pkg/launch"
)

// Config is a parsed nstar invocation.
type Config struct {
	// ToolPath is the host path of the archive tool.
	ToolPath string
	// PID is the host pid of a process in the target container.
	PID int
	// User is the container account the archive tool runs as.
	User string
	// Destination is the directory the archive tool runs in. A relative
	// destination is taken relative to the user's home directory.
	Destination string
	// Compress is the path to archive in create mode, relative to
	// Destination. Empty means extract mode.
	Compress string
}

// ParseArgs parses the positional arguments
//
//	<tar path> <pid> <user> <destination> [path to compress]
func ParseArgs(args []string) (Config, error) {
	if len(args) != 4 && len(args) != 5 {
		return Config{}, usageError(fmt.Errorf("expected 4 or 5 arguments, got %d", len(args)))
	}
	for idx, arg := range args {
		if arg == "" {
			return Config{}, usageError(fmt.Errorf("argument %d must not be empty", idx+1))
		}
	}

	pid, err := strconv.Atoi(args[1])
	if err != nil {
		return Config{}, usageError(fmt.Errorf("invalid pid %q: %w", args[1], err))
	}
	if pid <= 0 {
		return Config{}, usageError(fmt.Errorf("invalid pid %d: must be positive", pid))
	}

	cfg := Config{
		ToolPath:    args[0],
		PID:         pid,
		User:        args[2],
		Destination: args[3],
	}
	if len(args) == 5 {
		cfg.Compress = args[4]
	}
	return cfg, nil
}

// Args is the inverse of ParseArgs.
func (cfg Config) Args() []string {
	args := []string{cfg.ToolPath, strconv.Itoa(cfg.PID), cfg.User, cfg.Destination}
	if cfg.Compress != "" {
		args = append(args, cfg.Compress)
	}
	return args
}

// Mode returns the archive direction of the invocation.
func (cfg Config) Mode() launch.Mode {
	return launch.ModeFor(cfg.Compress)
}
