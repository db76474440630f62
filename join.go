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

	"github.com/apex/log"
	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/opencontainers/nstar/internal/funchelpers"
	"github.com/opencontainers/nstar/pkg/hosthandle"
	"github.com/opencontainers/nstar/pkg/identity"
	"github.com/opencontainers/nstar/pkg/launch"
	"github.com/opencontainers/nstar/pkg/nsenter"
	"github.com/opencontainers/nstar/pkg/privilege"
	"github.com/opencontainers/nstar/pkg/provision"
)

// Joiner runs the join stage.
type Joiner struct {
	// Root is the root of the container filesystem as seen after the mount
	// namespace switch. Defaults to "/".
	Root string
	// Sys defaults to UnixSys.
	Sys Sys
}

func (j Joiner) root() string {
	if j.Root == "" {
		return "/"
	}
	return j.Root
}

func (j Joiner) sys() Sys {
	if j.Sys == nil {
		return UnixSys()
	}
	return j.Sys
}

// Join enters the target's namespaces, prepares the destination and becomes
// the archive tool. It must run on the main goroutine of the join stage, and
// it only returns if something failed.
//
// The steps are strictly ordered: user namespace, mount namespace, account
// lookup, home directory, namespace root, destination directory, target
// user, exec.
func (j Joiner) Join(cfg Config, acq *Acquired) (Err error) {
	sys := j.sys()
	defer func() {
		// Only reached on failure, handles already used have been closed.
		if err := acq.Handles.Close(); err != nil {
			log.Warnf("nstar: close remaining handles: %v", err)
		}
	}()

	// A setgroups "deny" can come from the target's user namespace or from
	// the one nstar was started in when the target shares it.
	startedInUserNS := sys.InUserNamespace()

	switcher := nsenter.NewSwitcher(sys)
	userOutcome := switcher.EnterUser(acq.Handles.User, acq.UserErr)
	if mntns := switcher.EnterMount(acq.Handles.Mount); mntns.Fatal() {
		return wrap(ErrNamespace, "enter mount namespace", mntns.Err)
	}

	target, err := identity.Resolver{
		Root:   j.root(),
		UIDMap: acq.UIDMap,
		GIDMap: acq.GIDMap,
	}.Resolve(cfg.User)
	if err != nil {
		return wrap(ErrIdentity, "resolve user", err)
	}

	home, err := securejoin.SecureJoin(j.root(), target.Home)
	if err != nil {
		return wrap(ErrFilesystem, "resolve home directory", err)
	}
	if err := sys.Chdir(home); err != nil {
		return wrap(ErrFilesystem, "chdir to home directory", fmt.Errorf("%s: %w", target.Home, err))
	}

	nsRoot, err := privilege.Begin(sys, userOutcome.State == nsenter.Entered || startedInUserNS).ToNamespaceRoot()
	if err != nil {
		return wrap(ErrPrivilege, "drop to namespace root", err)
	}

	dest := cfg.Destination
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(target.Home, dest)
	}
	provisioner := provision.Provisioner{Root: j.root(), FS: sys}
	result, err := provisioner.Ensure(dest, provision.Owner{UID: target.UID, GID: target.GID})
	if err != nil {
		return wrap(ErrFilesystem, "provision destination", err)
	}
	log.WithFields(log.Fields{
		"destination": dest,
		"created":     result,
	}).Debugf("nstar: destination ready")

	if err := j.enterDestination(sys, dest); err != nil {
		return wrap(ErrFilesystem, "enter destination", err)
	}

	if _, err := nsRoot.ToUser(target); err != nil {
		return wrap(ErrPrivilege, "drop to target user", err)
	}

	err = launch.Launch(sys, acq.Handles.Tool, cfg.Mode(), cfg.Compress)
	return wrap(ErrLaunch, "launch archive tool", err)
}

// enterDestination makes dest the working directory through a handle, so
// that the directory switched to is the one that was just provisioned.
func (j Joiner) enterDestination(sys Sys, dest string) (Err error) {
	path, err := securejoin.SecureJoin(j.root(), dest)
	if err != nil {
		return err
	}
	dir, err := hosthandle.Open(path, hosthandle.Directory)
	if err != nil {
		return err
	}
	defer funchelpers.VerifyClose(&Err, dir)

	if err := sys.Fchdir(int(dir.Fd())); err != nil {
		return fmt.Errorf("fchdir %s: %w", dest, err)
	}
	return nil
}
