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

// Package launch replaces the nstar process with the archive tool, executing
// it through a handle opened on the host so the tool never has to exist in
// the container.
package launch

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/apex/log"
	"golang.org/x/sys/unix"

	"github.com/opencontainers/nstar/internal/assert"
	"github.com/opencontainers/nstar/pkg/hosthandle"
)

// Mode is the direction of the archive stream.
type Mode int

const (
	// Extract reads an archive on stdin into the working directory.
	Extract Mode = iota
	// Create writes an archive of a path relative to the working directory
	// to stdout.
	Create
)

func (m Mode) String() string {
	switch m {
	case Extract:
		return "extract"
	case Create:
		return "create"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ModeFor returns Create if a path to compress was given and Extract
// otherwise.
func ModeFor(compress string) Mode {
	if compress != "" {
		return Create
	}
	return Extract
}

// Args returns the argument vector for the archive tool.
func Args(mode Mode, compress string) []string {
	switch mode {
	case Extract:
		return []string{"tar", "xf", "-"}
	case Create:
		assert.Assert(compress != "", "create mode needs a path to compress")
		return []string{"tar", "cf", "-", compress}
	}
	assert.Unreachable(fmt.Sprintf("archive mode %d", int(mode)))
	return nil
}

// ErrReturned is returned if execveat(2) came back without reporting an
// error.
var ErrReturned = errors.New("execveat returned")

// Execer replaces the process image.
type Execer interface {
	Execveat(dirfd int, path string, argv, envv []string, flags int) error
}

type unixExecer struct{}

func stringSlicePtr(strs []string) ([]*byte, error) {
	ptrs := make([]*byte, len(strs)+1)
	for idx, str := range strs {
		ptr, err := unix.BytePtrFromString(str)
		if err != nil {
			return nil, err
		}
		ptrs[idx] = ptr
	}
	return ptrs, nil
}

func (unixExecer) Execveat(dirfd int, path string, argv, envv []string, flags int) error {
	pathPtr, err := unix.BytePtrFromString(path)
	if err != nil {
		return err
	}
	argvPtrs, err := stringSlicePtr(argv)
	if err != nil {
		return err
	}
	envvPtrs, err := stringSlicePtr(envv)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall6(unix.SYS_EXECVEAT,
		uintptr(dirfd),
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&argvPtrs[0])),
		uintptr(unsafe.Pointer(&envvPtrs[0])),
		uintptr(flags), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// UnixExecer returns the Execer backed by execveat(2).
func UnixExecer() Execer {
	return unixExecer{}
}

// Launch executes the binary behind tool in the given mode, with an empty
// environment and nstar's stdio. It only returns if the exec failed, so the
// returned error is never nil.
func Launch(ex Execer, tool *hosthandle.Handle, mode Mode, compress string) error {
	assert.Assertf(tool.Kind() == hosthandle.Binary, "launch needs a binary handle, got %s", tool.Kind())
	argv := Args(mode, compress)

	log.WithFields(log.Fields{
		"tool": tool.Name(),
		"mode": mode,
		"argv": argv,
	}).Debugf("launch: exec archive tool")

	err := ex.Execveat(int(tool.Fd()), "", argv, []string{}, unix.AT_EMPTY_PATH)
	if err == nil {
		err = ErrReturned
	}
	return fmt.Errorf("exec %s: %w", tool.Name(), err)
}
