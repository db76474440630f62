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

// Package provision creates a destination directory path one segment at a
// time, giving each segment it creates to an owner and leaving every
// segment that already existed exactly as it was.
package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"
)

// DirMode is the mode new segments are created with (before the umask).
const DirMode = 0o755

// Owner is the uid and gid newly created segments are chowned to.
type Owner struct {
	UID int
	GID int
}

// FS is the filesystem the Provisioner works on.
type FS interface {
	Mkdir(path string, mode uint32) error
	Lchown(path string, uid, gid int) error
	Stat(path string) (fs.FileInfo, error)
}

type unixFS struct{}

func (unixFS) Mkdir(path string, mode uint32) error   { return unix.Mkdir(path, mode) }
func (unixFS) Lchown(path string, uid, gid int) error { return unix.Lchown(path, uid, gid) }
func (unixFS) Stat(path string) (fs.FileInfo, error)  { return os.Stat(path) }

// UnixFS returns the FS backed by the real syscalls.
func UnixFS() FS {
	return unixFS{}
}

// Error is returned when a segment cannot be provisioned.
type Error struct {
	// Path is the segment as seen from the root, not the host path it was
	// resolved to.
	Path  string
	Owner Owner
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s as %d:%d: %v", e.Path, e.Owner.UID, e.Owner.GID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Result lists what Ensure did.
type Result struct {
	// Created holds the segments that were created (and chowned), in order.
	Created []string
}

// Provisioner creates directory paths under Root.
type Provisioner struct {
	// Root is the directory paths are resolved under. Symlinks in a path
	// cannot resolve outside of it. Defaults to "/".
	Root string
	// FS defaults to UnixFS.
	FS FS
}

func (p Provisioner) root() string {
	if p.Root == "" {
		return "/"
	}
	return p.Root
}

func (p Provisioner) fs() FS {
	if p.FS == nil {
		return UnixFS()
	}
	return p.FS
}

// Segments splits an absolute path into the prefixes Ensure walks:
// "/a/b/c" yields "/a", "/a/b" and "/a/b/c". The root itself has none.
func Segments(path string) []string {
	path = filepath.Clean(path)
	var segments []string
	for idx := 1; idx <= len(path); idx++ {
		if idx == len(path) || path[idx] == '/' {
			segments = append(segments, path[:idx])
		}
	}
	if len(segments) == 1 && segments[0] == "/" {
		return nil
	}
	return segments
}

// Ensure makes sure every segment of path exists as a directory. Segments
// that are created get mode DirMode and are chowned to owner straight away.
// Segments that exist are not touched. Calling Ensure again with the same
// arguments creates nothing and succeeds.
func (p Provisioner) Ensure(path string, owner Owner) (Result, error) {
	var result Result
	if !filepath.IsAbs(path) {
		return result, &Error{Path: path, Owner: owner, Err: fmt.Errorf("destination must be absolute")}
	}

	fsys := p.fs()
	segments := Segments(path)
	for idx, segment := range segments {
		fullPath, err := securejoin.SecureJoin(p.root(), segment)
		if err != nil {
			return result, &Error{Path: segment, Owner: owner, Err: fmt.Errorf("resolve: %w", err)}
		}

		err = fsys.Mkdir(fullPath, DirMode)
		switch {
		case err == nil:
			if err := fsys.Lchown(fullPath, owner.UID, owner.GID); err != nil {
				return result, &Error{Path: segment, Owner: owner, Err: fmt.Errorf("chown new directory: %w", err)}
			}
			result.Created = append(result.Created, segment)
			log.WithFields(log.Fields{
				"path": segment,
				"uid":  owner.UID,
				"gid":  owner.GID,
			}).Debugf("provision: created directory")
		case errors.Is(err, unix.EEXIST):
			// Intermediate segments that are not directories fail the next
			// mkdir with ENOTDIR, only the last one needs an explicit check.
			if idx == len(segments)-1 {
				fi, err := fsys.Stat(fullPath)
				if err != nil {
					return result, &Error{Path: segment, Owner: owner, Err: err}
				}
				if !fi.IsDir() {
					return result, &Error{Path: segment, Owner: owner, Err: unix.ENOTDIR}
				}
			}
		default:
			return result, &Error{Path: segment, Owner: owner, Err: fmt.Errorf("mkdir: %w", err)}
		}
	}
	log.Debugf("provision: %s ready, %d of %d segments created", path, len(result.Created), len(segments))
	return result, nil
}

// String returns the created segments for logging.
func (r Result) String() string {
	return "[" + strings.Join(r.Created, " ") + "]"
}
