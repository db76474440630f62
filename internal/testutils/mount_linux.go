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

// Package testutils has test-only helpers for the parts of nstar that need
// real privileges.
package testutils

import (
	"os"
	"runtime"
	"testing"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// RequireRoot skips the test unless it runs as root.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("test requires root privileges")
	}
}

// InPrivateMountNS runs fn on a dedicated OS thread that has been moved into a
// new, private mount namespace. The thread is never returned to the Go
// scheduler, so nothing else ever observes the namespace. fn must not start
// goroutines that touch the filesystem.
func InPrivateMountNS(t *testing.T, fn func()) {
	t.Helper()
	RequireRoot(t)

	done := make(chan error)
	go func() {
		// No UnlockOSThread: the thread dies with this goroutine.
		runtime.LockOSThread()

		if err := unix.Unshare(unix.CLONE_FS | unix.CLONE_NEWNS); err != nil {
			done <- err
			return
		}
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			done <- err
			return
		}
		fn()
		done <- nil
	}()
	if err := <-done; err != nil {
		t.Fatalf("enter private mount namespace: %v", err)
	}
}

// MountTmpfs mounts an empty tmpfs over path. It must be called from inside
// InPrivateMountNS, where the mount disappears with the namespace.
func MountTmpfs(t *testing.T, path string) {
	t.Helper()

	t.Logf("mounting tmpfs over %s", path)

	if err := unix.Mount("tmpfs", path, "tmpfs", 0, "size=1m"); err != nil {
		t.Errorf("mount tmpfs over %s: %v", path, err)
		return
	}
	if mounted, err := mountinfo.Mounted(path); err != nil || !mounted {
		t.Errorf("tmpfs over %s not visible as a mountpoint (mounted=%v): %v", path, mounted, err)
	}
}
