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

package nstar

import (
	"github.com/moby/sys/userns"
	"golang.org/x/sys/unix"

	"github.com/opencontainers/nstar/pkg/launch"
	"github.com/opencontainers/nstar/pkg/nsenter"
	"github.com/opencontainers/nstar/pkg/privilege"
	"github.com/opencontainers/nstar/pkg/provision"
)

// Sys is every operating system call the join stage makes.
type Sys interface {
	nsenter.System
	privilege.Setter
	provision.FS
	launch.Execer

	Chdir(path string) error
	Fchdir(fd int) error
	// InUserNamespace reports whether nstar was started inside a
	// non-initial user namespace. It must be asked before the mount
	// namespace switch, while /proc is still nstar's own.
	InUserNamespace() bool
}

type unixSys struct {
	nsenter.System
	privilege.Setter
	provision.FS
	launch.Execer
}

func (unixSys) Chdir(path string) error { return unix.Chdir(path) }
func (unixSys) Fchdir(fd int) error     { return unix.Fchdir(fd) }
func (unixSys) InUserNamespace() bool   { return userns.RunningInUserNS() }

// UnixSys returns the Sys backed by the real syscalls.
func UnixSys() Sys {
	return unixSys{
		System: nsenter.Unix(),
		Setter: privilege.Syscall(),
		FS:     provision.UnixFS(),
		Execer: launch.UnixExecer(),
	}
}
