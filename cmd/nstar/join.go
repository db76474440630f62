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

package main

import (
	"os"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"

	"github.com/opencontainers/nstar"
)

// joinMain is the entry point of the re-executed join stage. Its arguments
// are the positional arguments the host stage was given.
func joinMain() {
	log.SetHandler(logcli.New(os.Stderr))
	level, err := log.ParseLevel(os.Getenv(nstar.EnvLogLevel))
	if err != nil {
		level = log.WarnLevel
	}
	log.SetLevel(level)
	_ = os.Unsetenv(nstar.EnvLogLevel)

	cfg, err := nstar.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	acq, err := nstar.Resume()
	if err != nil {
		log.Fatalf("%v", err)
	}

	err = nstar.Joiner{}.Join(cfg, acq)
	log.Fatalf("%v", err)
}
