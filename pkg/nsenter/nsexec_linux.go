//go:build cgo

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

/*
#define _GNU_SOURCE
#include <errno.h>
#include <sched.h>
#include <stdlib.h>
#include <unistd.h>

static int userns_attempted;
static int userns_errno;

static int nstar_userns_attempted(void) { return userns_attempted; }
static int nstar_userns_errno(void) { return userns_errno; }

// Runs before the Go runtime creates any threads, which is the only point at
// which setns(CLONE_NEWUSER) can succeed. The variable name must match
// UserNamespaceFdEnv. The descriptor is closed whatever the result.
__attribute__((constructor)) static void nstar_join_userns(void)
{
	const char *val = getenv("_NSTAR_USERNS_FD");
	char *end = NULL;
	long fd;

	if (val == NULL || *val == '\0')
		return;

	userns_attempted = 1;
	errno = 0;
	fd = strtol(val, &end, 10);
	if (errno != 0 || end == val || *end != '\0' || fd < 0) {
		userns_errno = EBADF;
		return;
	}
	if (setns((int) fd, CLONE_NEWUSER) < 0)
		userns_errno = errno;
	close((int) fd);
}
*/
import "C"

import (
	"golang.org/x/sys/unix"
)

func constructorResult() (bool, error) {
	if C.nstar_userns_attempted() == 0 {
		return false, nil
	}
	if errno := C.nstar_userns_errno(); errno != 0 {
		return true, unix.Errno(errno)
	}
	return true, nil
}
