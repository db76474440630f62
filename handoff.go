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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	"go.podman.io/storage/pkg/reexec"
	"golang.org/x/sys/unix"

	"github.com/opencontainers/nstar/internal/idtools"
	"github.com/opencontainers/nstar/pkg/hosthandle"
	"github.com/opencontainers/nstar/pkg/nsenter"
)

// JoinCommand is the argv[0] the join stage is registered under with
// reexec.Register.
const JoinCommand = "nstar-join"

// EnvLogLevel carries the log level into the join stage.
const EnvLogLevel = "_NSTAR_LOG_LEVEL"

const (
	envPrefix  = "_NSTAR_"
	envMountFd = "_NSTAR_MNTNS_FD"
	envToolFd  = "_NSTAR_TOOL_FD"
	envUserFd  = nsenter.UserNamespaceFdEnv
	envUserErr = "_NSTAR_USERNS_ERR"
	envUIDMap  = "_NSTAR_UIDMAP"
	envGIDMap  = "_NSTAR_GIDMAP"
)

var execve = unix.Exec

// HandoffEnv returns environ with any stale handoff variables replaced by the
// ones describing acq. The log level variable is passed through untouched.
func HandoffEnv(environ []string, acq *Acquired) []string {
	env := make([]string, 0, len(environ)+6)
	for _, kv := range environ {
		if strings.HasPrefix(kv, envPrefix) && !strings.HasPrefix(kv, EnvLogLevel+"=") {
			continue
		}
		env = append(env, kv)
	}

	set := acq.Handles
	env = append(env,
		envMountFd+"="+strconv.Itoa(int(set.Mount.Fd())),
		envToolFd+"="+strconv.Itoa(int(set.Tool.Fd())),
	)
	if set.User != nil && !set.User.Closed() {
		env = append(env, envUserFd+"="+strconv.Itoa(int(set.User.Fd())))
	}
	if acq.UserErr != nil {
		env = append(env, envUserErr+"="+acq.UserErr.Error())
	}
	if acq.UIDMap != nil {
		env = append(env, envUIDMap+"="+idtools.FormatMappings(acq.UIDMap))
	}
	if acq.GIDMap != nil {
		env = append(env, envGIDMap+"="+idtools.FormatMappings(acq.GIDMap))
	}
	return env
}

// Reexec replaces the host stage with the join stage, passing the acquired
// handles down as inherited descriptors. It only returns on failure.
func Reexec(cfg Config, acq *Acquired) error {
	if err := acq.Handles.Inherit(); err != nil {
		return wrap(ErrAcquire, "pass handles to join stage", err)
	}
	argv := append([]string{JoinCommand}, cfg.Args()...)
	env := HandoffEnv(os.Environ(), acq)

	log.Debugf("nstar: re-executing as %s", JoinCommand)
	err := execve(reexec.Self(), argv, env)
	if err == nil {
		err = errors.New("exec returned")
	}
	return wrap(ErrLaunch, "re-exec join stage", err)
}

func adoptFromEnv(name string, kind hosthandle.Kind) (*hosthandle.Handle, error) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("%s not set, not started by the host stage", name)
	}
	fd, err := strconv.ParseUint(val, 10, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, val, err)
	}
	return hosthandle.Adopt(uintptr(fd), kind, fmt.Sprintf("inherited %s (fd %d)", kind, fd))
}

// Resume rebuilds what the host stage acquired from the inherited
// descriptors and the handoff variables, and removes the variables from the
// environment.
//
// The user namespace descriptor is normally used and closed before the
// runtime starts (see pkg/nsenter), leaving Handles.User nil. It is only
// adopted when no constructor consumed it, so that the join can be tried
// from Go instead.
func Resume() (_ *Acquired, Err error) {
	set := &hosthandle.Set{}
	defer func() {
		for _, name := range []string{envMountFd, envToolFd, envUserFd, envUserErr, envUIDMap, envGIDMap} {
			_ = os.Unsetenv(name)
		}
		if Err != nil {
			_ = set.Close()
		}
	}()

	mnt, err := adoptFromEnv(envMountFd, hosthandle.MountNamespace)
	if err != nil {
		return nil, wrap(ErrAcquire, "adopt mount namespace", err)
	}
	set.Mount = mnt

	tool, err := adoptFromEnv(envToolFd, hosthandle.Binary)
	if err != nil {
		return nil, wrap(ErrAcquire, "adopt archive tool", err)
	}
	set.Tool = tool

	if _, ok := os.LookupEnv(envUserFd); ok && !nsenter.JoinedBeforeRuntime() {
		user, err := adoptFromEnv(envUserFd, hosthandle.UserNamespace)
		if err != nil {
			return nil, wrap(ErrAcquire, "adopt user namespace", err)
		}
		set.User = user
	}

	acq := &Acquired{Handles: set}
	if msg := os.Getenv(envUserErr); msg != "" {
		acq.UserErr = errors.New(msg)
	}
	if acq.UIDMap, err = idtools.ParseMappings(os.Getenv(envUIDMap)); err != nil {
		return nil, wrap(ErrAcquire, "parse uid map", err)
	}
	if acq.GIDMap, err = idtools.ParseMappings(os.Getenv(envGIDMap)); err != nil {
		return nil, wrap(ErrAcquire, "parse gid map", err)
	}
	return acq, nil
}
