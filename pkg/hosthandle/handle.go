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

// Package hosthandle provides Handle, an open reference to a host object
// (a namespace, the archive tool binary or a directory) that keeps referring
// to that object after the process joins other namespaces or changes its
// working directory. Code that crosses a namespace boundary must hold a
// Handle rather than a path: a path is re-resolved in whatever mount
// namespace the process happens to be in, a Handle is not.
package hosthandle

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/opencontainers/nstar/internal/assert"
)

// Kind is the kind of object a Handle refers to.
type Kind int

const (
	// MountNamespace is a /proc/<pid>/ns/mnt handle.
	MountNamespace Kind = iota + 1
	// UserNamespace is a /proc/<pid>/ns/user handle.
	UserNamespace
	// Binary is an executable that will be run through execveat(2).
	Binary
	// Directory is a directory used as a working directory.
	Directory
)

func (k Kind) String() string {
	switch k {
	case MountNamespace:
		return "mnt namespace"
	case UserNamespace:
		return "user namespace"
	case Binary:
		return "binary"
	case Directory:
		return "directory"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// CloneFlag returns the CLONE_NEW* flag setns(2) expects for a namespace
// kind, or 0 for kinds that are not namespaces.
func (k Kind) CloneFlag() int {
	switch k {
	case MountNamespace:
		return unix.CLONE_NEWNS
	case UserNamespace:
		return unix.CLONE_NEWUSER
	}
	return 0
}

// IsNamespace returns whether k is one of the namespace kinds.
func (k Kind) IsNamespace() bool {
	return k.CloneFlag() != 0
}

// ErrWrongKind is returned when an opened file is not the kind of object the
// caller asked for.
var ErrWrongKind = errors.New("host handle refers to the wrong kind of object")

// Handle is an open reference to a host object. It is owned by exactly one
// holder and must be closed exactly once.
type Handle struct {
	file   *os.File
	kind   Kind
	closed bool
}

// Open opens path as a Handle of the given kind. The descriptor is
// close-on-exec. Namespace handles are checked to really be namespaces of
// that kind, binaries must be regular files and directories must be
// directories.
func Open(path string, kind Kind) (*Handle, error) {
	flags := unix.O_RDONLY | unix.O_CLOEXEC
	if kind == Directory {
		flags |= unix.O_DIRECTORY
	}
	fh, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	h := &Handle{file: fh, kind: kind}
	if err := h.verify(); err != nil {
		_ = fh.Close()
		return nil, err
	}
	return h, nil
}

// Adopt wraps an inherited descriptor (such as one passed across a re-exec)
// in a Handle. The descriptor is made close-on-exec again and verified the
// same way Open verifies a freshly opened one.
func Adopt(fd uintptr, kind Kind, name string) (*Handle, error) {
	if _, err := unix.FcntlInt(fd, unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return nil, &os.PathError{Op: "adopt " + kind.String(), Path: name, Err: err}
	}
	h := &Handle{file: os.NewFile(fd, name), kind: kind}
	if err := h.verify(); err != nil {
		_ = h.file.Close()
		return nil, err
	}
	return h, nil
}

func (h *Handle) verify() error {
	if h.kind.IsNamespace() {
		return verifyNamespace(h.file, h.kind)
	}
	fi, err := h.file.Stat()
	if err != nil {
		return err
	}
	switch {
	case h.kind == Binary && !fi.Mode().IsRegular():
		return &os.PathError{Op: "open " + h.kind.String(), Path: h.Name(), Err: ErrWrongKind}
	case h.kind == Directory && !fi.IsDir():
		return &os.PathError{Op: "open " + h.kind.String(), Path: h.Name(), Err: unix.ENOTDIR}
	}
	return nil
}

// Kind returns the kind of object h refers to.
func (h *Handle) Kind() Kind { return h.kind }

// Name returns the path h was opened with. It is a label for diagnostics
// only and must never be used to re-open the object.
func (h *Handle) Name() string { return h.file.Name() }

// Fd returns the underlying descriptor.
func (h *Handle) Fd() uintptr {
	assert.Assertf(!h.closed, "use of closed %s handle %s", h.kind, h.Name())
	return h.file.Fd()
}

// Closed returns whether Close has been called.
func (h *Handle) Closed() bool { return h.closed }

// Close closes the handle. Closing a handle twice is a programmer error.
func (h *Handle) Close() error {
	assert.Assertf(!h.closed, "%s handle %s closed twice", h.kind, h.Name())
	h.closed = true
	return h.file.Close()
}

// Inherit clears close-on-exec on the handle so that it survives execve(2).
func (h *Handle) Inherit() error {
	if _, err := unix.FcntlInt(h.Fd(), unix.F_SETFD, 0); err != nil {
		return &os.PathError{Op: "inherit " + h.kind.String(), Path: h.Name(), Err: err}
	}
	return nil
}

// SameObject returns whether a and b refer to the same inode on the same
// device. For namespace handles this means the same namespace.
func SameObject(a, b *Handle) (bool, error) {
	var sta, stb unix.Stat_t
	if err := unix.Fstat(int(a.Fd()), &sta); err != nil {
		return false, &os.PathError{Op: "fstat", Path: a.Name(), Err: err}
	}
	if err := unix.Fstat(int(b.Fd()), &stb); err != nil {
		return false, &os.PathError{Op: "fstat", Path: b.Name(), Err: err}
	}
	return sta.Dev == stb.Dev && sta.Ino == stb.Ino, nil
}
