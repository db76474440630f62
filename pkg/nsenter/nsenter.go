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

// Package nsenter moves the running nstar process into a target container's
// user and mount namespaces.
//
// The two namespaces have different failure policies. Joining the user
// namespace is best effort: many containers do not have their own, and the
// worst case is that account lookups see host ids. Joining the mount
// namespace is mandatory, every later path lookup depends on it. The user
// namespace must be decided first, since account resolution after the mount
// switch has to happen under the container's id mapping.
//
// A multithreaded process cannot setns(2) into a user namespace, and the Go
// runtime is always multithreaded. The user join is therefore done by a C
// constructor before the runtime starts (see nsexec_linux.go) and EnterUser
// only reports what it did. The constructor needs cgo; a build without cgo
// still works, but its user namespace join is attempted from Go and fails.
// The mount join happens here, on a locked thread whose filesystem
// attributes have been unshared from the rest of the process.
package nsenter

import (
	"fmt"
	"runtime"

	"github.com/apex/log"
	"golang.org/x/sys/unix"

	"github.com/opencontainers/nstar/internal/assert"
	"github.com/opencontainers/nstar/pkg/hosthandle"
)

// UserNamespaceFdEnv names the environment variable holding the descriptor
// number of an inherited user namespace handle. The constructor in
// nsexec_linux.go reads the same name.
const UserNamespaceFdEnv = "_NSTAR_USERNS_FD"

// State is the result of a single namespace entry attempt.
type State int

const (
	// Skipped means no entry was attempted.
	Skipped State = iota
	// Entered means the process is now a member of the namespace.
	Entered
	// Failed means the attempt was made and did not succeed.
	Failed
)

func (s State) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Entered:
		return "entered"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is the tagged result of entering one namespace.
type Outcome struct {
	Kind  hosthandle.Kind
	State State
	Err   error
}

// Fatal reports whether the outcome must abort the whole operation. Only a
// failed mount namespace join is fatal.
func (o Outcome) Fatal() bool {
	return o.State == Failed && o.Kind == hosthandle.MountNamespace
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s: %v", o.Kind, o.State, o.Err)
	}
	return fmt.Sprintf("%s %s", o.Kind, o.State)
}

// System is the set of namespace syscalls the Switcher needs.
type System interface {
	Unshare(flags int) error
	Setns(fd int, nstype int) error
}

type unixSystem struct{}

func (unixSystem) Unshare(flags int) error        { return unix.Unshare(flags) }
func (unixSystem) Setns(fd int, nstype int) error { return unix.Setns(fd, nstype) }

// Unix returns the System backed by the real syscalls.
func Unix() System {
	return unixSystem{}
}

// Switcher enters the user namespace and then the mount namespace of a
// target, exactly once each and in that order.
type Switcher struct {
	sys   System
	user  *Outcome
	mount *Outcome

	// preJoined reports whether the user namespace join was already attempted
	// before the Go runtime started, and with what result.
	preJoined func() (bool, error)
}

// NewSwitcher returns a Switcher using sys for the syscalls it makes itself.
func NewSwitcher(sys System) *Switcher {
	return &Switcher{
		sys:       sys,
		preJoined: constructorResult,
	}
}

// EnterUser decides the user namespace outcome. If the constructor already
// attempted the join, its result is reported and h is nil. Otherwise h
// (which may be nil if it could not be opened or the target shares nstar's
// user namespace) is used for a join attempt from Go. That fallback is only
// reached in builds without the constructor, and usually fails with EINVAL
// because the process is multithreaded. openErr is the reason h is nil, if
// any.
//
// A Failed outcome is never fatal. h is closed before EnterUser returns.
func (s *Switcher) EnterUser(h *hosthandle.Handle, openErr error) Outcome {
	assert.Assert(s.user == nil, "user namespace entered twice")

	outcome := Outcome{Kind: hosthandle.UserNamespace, State: Skipped}
	if attempted, err := s.preJoined(); attempted {
		outcome.State, outcome.Err = Entered, nil
		if err != nil {
			outcome.State, outcome.Err = Failed, fmt.Errorf("setns before runtime start: %w", err)
		}
	} else if h != nil {
		outcome.State = Entered
		if err := s.sys.Setns(int(h.Fd()), unix.CLONE_NEWUSER); err != nil {
			outcome.State, outcome.Err = Failed, fmt.Errorf("setns %s: %w", h.Name(), err)
		}
	} else if openErr != nil {
		outcome.State, outcome.Err = Failed, openErr
	}
	closeAfterUse(h)

	s.user = &outcome
	if outcome.State == Failed {
		log.Warnf("nstar: could not join user namespace, continuing with host id mapping: %v", outcome.Err)
	} else {
		log.Debugf("nstar: %s", outcome)
	}
	return outcome
}

// EnterMount joins the mount namespace referenced by h. The calling goroutine
// is locked to its OS thread for the rest of the process lifetime: the
// namespace, root and working directory only apply to that thread until the
// process image is replaced. h is closed before EnterMount returns.
func (s *Switcher) EnterMount(h *hosthandle.Handle) Outcome {
	assert.Assert(s.user != nil, "mount namespace entered before the user namespace outcome was decided")
	assert.Assert(s.mount == nil, "mount namespace entered twice")
	assert.Assert(h != nil, "mount namespace handle is mandatory")

	runtime.LockOSThread()

	outcome := Outcome{Kind: hosthandle.MountNamespace, State: Entered}
	// setns(CLONE_NEWNS) refuses to work while fs attributes are shared with
	// other threads.
	if err := s.sys.Unshare(unix.CLONE_FS); err != nil {
		outcome.State, outcome.Err = Failed, fmt.Errorf("unshare fs attributes: %w", err)
	} else if err := s.sys.Setns(int(h.Fd()), unix.CLONE_NEWNS); err != nil {
		outcome.State, outcome.Err = Failed, fmt.Errorf("setns %s: %w", h.Name(), err)
	}
	closeAfterUse(h)

	s.mount = &outcome
	log.Debugf("nstar: %s", outcome)
	return outcome
}

// JoinedBeforeRuntime reports whether the constructor consumed a user
// namespace descriptor passed in UserNamespaceFdEnv. If it did not, the
// descriptor is still open and belongs to the caller.
func JoinedBeforeRuntime() bool {
	attempted, _ := constructorResult()
	return attempted
}

func closeAfterUse(h *hosthandle.Handle) {
	if h == nil || h.Closed() {
		return
	}
	if err := h.Close(); err != nil {
		log.Warnf("nstar: close %s handle %s: %v", h.Kind(), h.Name(), err)
	}
}
