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

package nsenter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opencontainers/nstar/pkg/hosthandle"
)

type fakeSystem struct {
	calls      []string
	unshareErr error
	setnsErr   map[int]error
}

func (s *fakeSystem) Unshare(flags int) error {
	s.calls = append(s.calls, fmt.Sprintf("unshare(%#x)", flags))
	return s.unshareErr
}

func (s *fakeSystem) Setns(fd int, nstype int) error {
	s.calls = append(s.calls, fmt.Sprintf("setns(%#x)", nstype))
	return s.setnsErr[nstype]
}

func newTestSwitcher(sys System, attempted bool, err error) *Switcher {
	s := NewSwitcher(sys)
	s.preJoined = func() (bool, error) { return attempted, err }
	return s
}

func openNs(t *testing.T, kind hosthandle.Kind) *hosthandle.Handle {
	path := "/proc/self/ns/mnt"
	if kind == hosthandle.UserNamespace {
		path = "/proc/self/ns/user"
	}
	h, err := hosthandle.Open(path, kind)
	require.NoErrorf(t, err, "open own %s", kind)
	t.Cleanup(func() {
		if !h.Closed() {
			_ = h.Close()
		}
	})
	return h
}

func TestEnterUserJoinedBeforeRuntime(t *testing.T) {
	sys := &fakeSystem{}
	s := newTestSwitcher(sys, true, nil)

	outcome := s.EnterUser(nil, nil)
	assert.Equal(t, Entered, outcome.State)
	assert.Equal(t, hosthandle.UserNamespace, outcome.Kind)
	assert.NoError(t, outcome.Err)
	assert.Empty(t, sys.calls, "no syscalls when the constructor already joined")
}

func TestEnterUserFailedBeforeRuntime(t *testing.T) {
	s := newTestSwitcher(&fakeSystem{}, true, unix.EPERM)

	outcome := s.EnterUser(nil, nil)
	assert.Equal(t, Failed, outcome.State)
	assert.ErrorIs(t, outcome.Err, unix.EPERM)
	assert.False(t, outcome.Fatal(), "user namespace failure is tolerated")
}

func TestEnterUserSkipped(t *testing.T) {
	sys := &fakeSystem{}
	s := newTestSwitcher(sys, false, nil)

	outcome := s.EnterUser(nil, nil)
	assert.Equal(t, Skipped, outcome.State)
	assert.NoError(t, outcome.Err)
	assert.Empty(t, sys.calls)
}

func TestEnterUserOpenFailed(t *testing.T) {
	openErr := fmt.Errorf("open /proc/1234/ns/user: %w", unix.ENOENT)
	s := newTestSwitcher(&fakeSystem{}, false, openErr)

	outcome := s.EnterUser(nil, openErr)
	assert.Equal(t, Failed, outcome.State)
	assert.ErrorIs(t, outcome.Err, unix.ENOENT)
	assert.False(t, outcome.Fatal())
}

func TestEnterUserFromGo(t *testing.T) {
	for _, test := range []struct {
		name     string
		setnsErr error
		want     State
	}{
		{"Entered", nil, Entered},
		{"Multithreaded", unix.EINVAL, Failed},
	} {
		t.Run(test.name, func(t *testing.T) {
			sys := &fakeSystem{setnsErr: map[int]error{unix.CLONE_NEWUSER: test.setnsErr}}
			s := newTestSwitcher(sys, false, nil)
			h := openNs(t, hosthandle.UserNamespace)

			outcome := s.EnterUser(h, nil)
			assert.Equal(t, test.want, outcome.State)
			assert.ErrorIs(t, outcome.Err, test.setnsErr)
			assert.False(t, outcome.Fatal())
			assert.Equal(t, []string{fmt.Sprintf("setns(%#x)", unix.CLONE_NEWUSER)}, sys.calls)
			assert.True(t, h.Closed(), "handle is closed after the attempt")
		})
	}
}

func TestEnterUserTwice(t *testing.T) {
	s := newTestSwitcher(&fakeSystem{}, false, nil)
	s.EnterUser(nil, nil)
	assert.Panics(t, func() { s.EnterUser(nil, nil) })
}

func TestEnterMountBeforeUser(t *testing.T) {
	s := newTestSwitcher(&fakeSystem{}, false, nil)
	h := openNs(t, hosthandle.MountNamespace)
	assert.Panics(t, func() { s.EnterMount(h) }, "mount before user outcome is a programmer error")
}

func TestEnterMount(t *testing.T) {
	sys := &fakeSystem{}
	s := newTestSwitcher(sys, false, nil)
	s.EnterUser(nil, nil)
	h := openNs(t, hosthandle.MountNamespace)

	outcome := s.EnterMount(h)
	assert.Equal(t, Entered, outcome.State)
	assert.Equal(t, hosthandle.MountNamespace, outcome.Kind)
	assert.False(t, outcome.Fatal())
	assert.Equal(t, []string{
		fmt.Sprintf("unshare(%#x)", unix.CLONE_FS),
		fmt.Sprintf("setns(%#x)", unix.CLONE_NEWNS),
	}, sys.calls, "fs attributes are unshared before the join")
	assert.True(t, h.Closed())

	assert.Panics(t, func() { s.EnterMount(openNs(t, hosthandle.MountNamespace)) }, "mount entered twice")
}

func TestEnterMountFailure(t *testing.T) {
	for _, test := range []struct {
		name  string
		sys   *fakeSystem
		errIs error
		calls int
	}{
		{"Setns", &fakeSystem{setnsErr: map[int]error{unix.CLONE_NEWNS: unix.EPERM}}, unix.EPERM, 2},
		{"Unshare", &fakeSystem{unshareErr: unix.ENOMEM}, unix.ENOMEM, 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := newTestSwitcher(test.sys, false, nil)
			s.EnterUser(nil, nil)
			h := openNs(t, hosthandle.MountNamespace)

			outcome := s.EnterMount(h)
			assert.Equal(t, Failed, outcome.State)
			assert.True(t, outcome.Fatal(), "mount namespace failure is fatal")
			assert.ErrorIs(t, outcome.Err, test.errIs)
			assert.Len(t, test.sys.calls, test.calls)
			assert.True(t, h.Closed())
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "user namespace skipped", Outcome{Kind: hosthandle.UserNamespace}.String())
	assert.Equal(t, "mnt namespace failed: boom",
		Outcome{Kind: hosthandle.MountNamespace, State: Failed, Err: errors.New("boom")}.String())
	assert.Equal(t, "State(7)", State(7).String())
}

func TestConstructorNotAttempted(t *testing.T) {
	// The test binary is never started with a user namespace handle.
	attempted, err := constructorResult()
	assert.False(t, attempted)
	assert.NoError(t, err)
}
