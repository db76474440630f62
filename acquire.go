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
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/apex/log"
	rspec "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/opencontainers/nstar/internal/idtools"
	"github.com/opencontainers/nstar/pkg/hosthandle"
)

// procRoot is where per-process namespace files are looked up.
var procRoot = "/proc"

// Acquired is everything the host stage collects before any namespace
// transition.
type Acquired struct {
	Handles *hosthandle.Set

	// UserErr is why Handles.User is nil, if opening it failed. A nil
	// Handles.User with a nil UserErr means the target has no user namespace
	// of its own.
	UserErr error

	// UIDMap and GIDMap are the target's id maps, nil if unreadable.
	UIDMap []rspec.LinuxIDMapping
	GIDMap []rspec.LinuxIDMapping
}

// Acquire opens the target's mount namespace and the archive tool (both
// mandatory) and the target's user namespace (best effort), and reads the
// target's id maps.
func Acquire(cfg Config) (_ *Acquired, Err error) {
	procDir := filepath.Join(procRoot, strconv.Itoa(cfg.PID))
	set := &hosthandle.Set{}
	defer func() {
		if Err != nil {
			if err := set.Close(); err != nil {
				log.Warnf("nstar: close acquired handles: %v", err)
			}
		}
	}()

	mnt, err := hosthandle.Open(filepath.Join(procDir, "ns/mnt"), hosthandle.MountNamespace)
	if err != nil {
		return nil, wrap(ErrAcquire, "open mount namespace", err)
	}
	set.Mount = mnt

	tool, err := hosthandle.Open(cfg.ToolPath, hosthandle.Binary)
	if err != nil {
		return nil, wrap(ErrAcquire, "open archive tool", err)
	}
	set.Tool = tool

	acq := &Acquired{Handles: set}
	if user, err := openUserNamespace(procDir); err != nil {
		acq.UserErr = err
	} else {
		set.User = user
	}

	acq.UIDMap = readIDMap(filepath.Join(procDir, "uid_map"))
	acq.GIDMap = readIDMap(filepath.Join(procDir, "gid_map"))

	log.WithFields(log.Fields{
		"pid":      cfg.PID,
		"tool":     tool.Name(),
		"userns":   set.User != nil,
		"user_err": acq.UserErr,
	}).Debugf("nstar: acquired host handles")
	return acq, nil
}

// openUserNamespace returns nil (and no error) if the target shares nstar's
// own user namespace, since there is nothing to join.
func openUserNamespace(procDir string) (*hosthandle.Handle, error) {
	user, err := hosthandle.Open(filepath.Join(procDir, "ns/user"), hosthandle.UserNamespace)
	if err != nil {
		return nil, fmt.Errorf("open user namespace: %w", err)
	}

	self, err := hosthandle.Open(filepath.Join(procRoot, "self/ns/user"), hosthandle.UserNamespace)
	if err != nil {
		// Without our own namespace to compare with, just try the join.
		log.Debugf("nstar: cannot open own user namespace: %v", err)
		return user, nil
	}
	defer self.Close() //nolint:errcheck // read-only handle

	same, err := hosthandle.SameObject(user, self)
	if err != nil {
		log.Debugf("nstar: cannot compare user namespaces: %v", err)
		return user, nil
	}
	if same {
		log.Debugf("nstar: target shares our user namespace, skipping user namespace join")
		if err := user.Close(); err != nil {
			return nil, fmt.Errorf("close shared user namespace: %w", err)
		}
		return nil, nil
	}
	return user, nil
}

func readIDMap(path string) []rspec.LinuxIDMapping {
	idMap, err := idtools.ReadProcMap(path)
	if err != nil {
		log.Debugf("nstar: cannot read %s, host ids will not be translated: %v", path, err)
		return nil
	}
	return idMap
}
