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

package launch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opencontainers/nstar/pkg/hosthandle"
)

type recordedExec struct {
	dirfd int
	path  string
	argv  []string
	envv  []string
	flags int
}

type fakeExecer struct {
	calls []recordedExec
	err   error
}

func (f *fakeExecer) Execveat(dirfd int, path string, argv, envv []string, flags int) error {
	f.calls = append(f.calls, recordedExec{dirfd, path, argv, envv, flags})
	return f.err
}

func openTool(t *testing.T) *hosthandle.Handle {
	path := filepath.Join(t.TempDir(), "tar")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/false\n"), 0o755))
	h, err := hosthandle.Open(path, hosthandle.Binary)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, Extract, ModeFor(""))
	assert.Equal(t, Create, ModeFor("project"))
	assert.Equal(t, "extract", Extract.String())
	assert.Equal(t, "create", Create.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
}

func TestArgs(t *testing.T) {
	assert.Equal(t, []string{"tar", "xf", "-"}, Args(Extract, ""))
	assert.Equal(t, []string{"tar", "xf", "-"}, Args(Extract, "ignored"), "extract ignores the compress path")
	assert.Equal(t, []string{"tar", "cf", "-", "project"}, Args(Create, "project"))
	assert.Panics(t, func() { Args(Create, "") })
	assert.Panics(t, func() { Args(Mode(9), "x") })
}

func TestLaunch(t *testing.T) {
	for _, test := range []struct {
		name     string
		mode     Mode
		compress string
		argv     []string
	}{
		{"Extract", Extract, "", []string{"tar", "xf", "-"}},
		{"Create", Create, "src/dir", []string{"tar", "cf", "-", "src/dir"}},
	} {
		t.Run(test.name, func(t *testing.T) {
			tool := openTool(t)
			ex := &fakeExecer{err: unix.ENOEXEC}

			err := Launch(ex, tool, test.mode, test.compress)
			assert.ErrorIs(t, err, unix.ENOEXEC)
			assert.ErrorContains(t, err, tool.Name())
			require.Len(t, ex.calls, 1)
			assert.Equal(t, recordedExec{
				dirfd: int(tool.Fd()),
				path:  "",
				argv:  test.argv,
				envv:  []string{},
				flags: unix.AT_EMPTY_PATH,
			}, ex.calls[0], "tool is executed through its handle with a clean environment")
		})
	}
}

func TestLaunchReturnedWithoutError(t *testing.T) {
	err := Launch(&fakeExecer{}, openTool(t), Extract, "")
	assert.ErrorIs(t, err, ErrReturned, "returning at all is a failure")
}

func TestLaunchNeedsBinary(t *testing.T) {
	dir, err := hosthandle.Open(t.TempDir(), hosthandle.Directory)
	require.NoError(t, err)
	defer dir.Close() //nolint:errcheck

	assert.Panics(t, func() { _ = Launch(&fakeExecer{}, dir, Extract, "") })
}

func TestUnixExecerFailure(t *testing.T) {
	// A directory cannot be executed, so execveat fails and returns.
	dir, err := hosthandle.Open(t.TempDir(), hosthandle.Directory)
	require.NoError(t, err)
	defer dir.Close() //nolint:errcheck

	err = UnixExecer().Execveat(int(dir.Fd()), "", []string{"tar"}, nil, unix.AT_EMPTY_PATH)
	assert.ErrorIs(t, err, unix.EACCES)
}
