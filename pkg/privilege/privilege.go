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

// Package privilege performs nstar's two credential transitions as a chain of
// single-use tokens:
//
//	HostRoot --ToNamespaceRoot--> NamespaceRoot --ToUser--> Dropped
//
// The terminal drop is only reachable from a NamespaceRoot, so the order of
// the two transitions is enforced by the types. Every transition sets the
// gid before the uid (once the uid is gone so is CAP_SETGID) and sets the
// real, effective and saved ids together so nothing can be regained later.
package privilege

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/apex/log"

	"github.com/opencontainers/nstar/internal/assert"
	"github.com/opencontainers/nstar/pkg/identity"
)

// Setter is the set of credential syscalls a transition makes, in the order
// they are made.
type Setter interface {
	Setresgid(rgid, egid, sgid int) error
	Setgroups(gids []int) error
	Setresuid(ruid, euid, suid int) error
}

type syscallSetter struct{}

// The syscall package applies these to every thread of the process, which
// matters because the runtime may run other goroutines on other threads
// until the process image is replaced.
func (syscallSetter) Setresgid(rgid, egid, sgid int) error { return syscall.Setresgid(rgid, egid, sgid) }
func (syscallSetter) Setgroups(gids []int) error           { return syscall.Setgroups(gids) }
func (syscallSetter) Setresuid(ruid, euid, suid int) error { return syscall.Setresuid(ruid, euid, suid) }

// Syscall returns the Setter backed by the real syscalls.
func Syscall() Setter {
	return syscallSetter{}
}

type token struct {
	setter Setter
	// inUserNS allows setgroups to be denied, which is what a user namespace
	// with "deny" in /proc/<pid>/setgroups does.
	inUserNS bool
	// groupsDenied records that setgroups was already refused once.
	groupsDenied bool
	spent        bool
}

func (t *token) spend(state string) {
	assert.Assertf(!t.spent, "privilege state %s used twice", state)
	t.spent = true
}

func (t *token) set(uid, gid int, groups []int) error {
	if err := t.setter.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("setresgid(%d): %w", gid, err)
	}
	if err := t.setter.Setgroups(groups); err != nil {
		if !t.inUserNS || !errors.Is(err, syscall.EPERM) {
			return fmt.Errorf("setgroups(%v): %w", groups, err)
		}
		if !t.groupsDenied {
			log.Infof("privilege: setgroups denied in user namespace, keeping current supplementary groups: %v", err)
		} else {
			log.Debugf("privilege: setgroups(%v) denied again: %v", groups, err)
		}
		t.groupsDenied = true
	}
	if err := t.setter.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("setresuid(%d): %w", uid, err)
	}
	return nil
}

// HostRoot is the fully privileged starting state.
type HostRoot struct{ tok *token }

// NamespaceRoot is uid 0 and gid 0 of the current user namespace with no
// supplementary groups.
type NamespaceRoot struct{ tok *token }

// Dropped is the terminal state: the target user's credentials, with no way
// back.
type Dropped struct {
	UID    int
	GID    int
	Groups []int
}

// Begin returns the initial state. inUserNS reports whether the process is
// in a non-initial user namespace, either because it joined the target's or
// because it was started in one.
func Begin(setter Setter, inUserNS bool) *HostRoot {
	return &HostRoot{tok: &token{setter: setter, inUserNS: inUserNS}}
}

// ToNamespaceRoot becomes (0, 0) in the current user namespace. The result
// is still privileged: it can create directories anywhere and chown them.
// The receiver cannot be used again.
func (s *HostRoot) ToNamespaceRoot() (*NamespaceRoot, error) {
	s.tok.spend("HostRoot")
	if err := s.tok.set(0, 0, []int{}); err != nil {
		return nil, fmt.Errorf("become namespace root: %w", err)
	}
	log.Debugf("privilege: now namespace root")
	return &NamespaceRoot{tok: &token{
		setter:       s.tok.setter,
		inUserNS:     s.tok.inUserNS,
		groupsDenied: s.tok.groupsDenied,
	}}, nil
}

// ToUser irreversibly becomes target. The receiver cannot be used again.
func (s *NamespaceRoot) ToUser(target identity.Target) (*Dropped, error) {
	s.tok.spend("NamespaceRoot")
	groups := target.Groups()
	if groups == nil {
		groups = []int{}
	}
	if err := s.tok.set(target.UID, target.GID, groups); err != nil {
		return nil, fmt.Errorf("drop to user %q: %w", target.Name, err)
	}
	log.WithFields(log.Fields{
		"uid":    target.UID,
		"gid":    target.GID,
		"groups": groups,
	}).Debugf("privilege: dropped to target user")
	return &Dropped{UID: target.UID, GID: target.GID, Groups: groups}, nil
}
