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

// Package identity resolves a container account name into the numeric
// identity nstar drops to, reading the account database of whatever root
// filesystem the process currently sees.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/apex/log"
	"github.com/moby/sys/user"
	rspec "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/opencontainers/nstar/internal/idtools"
)

// ErrAccountNotFound is returned when the account database has no entry for
// the requested name.
var ErrAccountNotFound = errors.New("no such account")

// Target is the resolved identity of the container user. All ids except
// HostUID and HostGID are as seen inside the container's user namespace.
type Target struct {
	Name string
	UID  int
	GID  int
	Home string

	// HostUID and HostGID are UID and GID translated through the id maps of
	// the target process. They equal UID and GID if no maps were supplied.
	HostUID int
	HostGID int

	groups []int
}

// Groups returns the supplementary group ids of the account, excluding the
// primary group.
func (t Target) Groups() []int {
	return slices.Clone(t.groups)
}

// Resolver looks accounts up in Root/etc/passwd and Root/etc/group.
type Resolver struct {
	// Root is the filesystem root holding the account database. Defaults to
	// "/", which after the mount namespace switch is the container's root.
	Root string

	// UIDMap and GIDMap are the id maps of the target process, used only to
	// fill in Target.HostUID and Target.HostGID.
	UIDMap []rspec.LinuxIDMapping
	GIDMap []rspec.LinuxIDMapping
}

func (r Resolver) path(name string) string {
	root := r.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(root, name)
}

// Resolve returns the Target for the named account.
func (r Resolver) Resolve(name string) (Target, error) {
	passwdPath := r.path("/etc/passwd")
	users, err := user.ParsePasswdFileFilter(passwdPath, func(u user.User) bool {
		return u.Name == name
	})
	if err != nil {
		return Target{}, fmt.Errorf("read %s: %w", passwdPath, err)
	}
	if len(users) == 0 {
		return Target{}, fmt.Errorf("look up %q in %s: %w", name, passwdPath, ErrAccountNotFound)
	}
	u := users[0]

	groups, err := r.supplementaryGroups(u)
	if err != nil {
		return Target{}, err
	}

	hostUID, err := idtools.ToHost(u.Uid, r.UIDMap)
	if err != nil {
		return Target{}, fmt.Errorf("user %q uid: %w", name, err)
	}
	hostGID, err := idtools.ToHost(u.Gid, r.GIDMap)
	if err != nil {
		return Target{}, fmt.Errorf("user %q gid: %w", name, err)
	}

	target := Target{
		Name:    u.Name,
		UID:     u.Uid,
		GID:     u.Gid,
		Home:    u.Home,
		HostUID: hostUID,
		HostGID: hostGID,
		groups:  groups,
	}
	log.WithFields(log.Fields{
		"user":     target.Name,
		"uid":      target.UID,
		"gid":      target.GID,
		"home":     target.Home,
		"host_uid": target.HostUID,
		"host_gid": target.HostGID,
	}).Debugf("identity: resolved account")
	return target, nil
}

// supplementaryGroups lists the groups naming u as a member. A missing group
// file means no supplementary groups.
func (r Resolver) supplementaryGroups(u user.User) ([]int, error) {
	groupPath := r.path("/etc/group")
	groups, err := user.ParseGroupFileFilter(groupPath, func(g user.Group) bool {
		return g.Gid != u.Gid && slices.Contains(g.List, u.Name)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("identity: %s does not exist, no supplementary groups", groupPath)
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", groupPath, err)
	}

	var gids []int
	for _, g := range groups {
		if !slices.Contains(gids, g.Gid) {
			gids = append(gids, g.Gid)
		}
	}
	return gids, nil
}
