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

// Package funchelpers has helpers for deferred cleanup whose failure must not
// be dropped on the floor.
package funchelpers

import (
	"io"

	"github.com/opencontainers/nstar/internal/assert"
)

// VerifyError runs closeFn and stores its error in *Err unless *Err already
// holds an earlier error. It is meant to be deferred in functions with a named
// error return:
//
//	func enter(path string) (Err error) {
//		h, err := hosthandle.Open(path, hosthandle.Directory)
//		if err != nil {
//			return err
//		}
//		defer funchelpers.VerifyClose(&Err, h)
//		return unix.Fchdir(int(h.Fd()))
//	}
//
// A failing close is never ignored: closing the destination handle after the
// working directory switch is part of the operation.
func VerifyError(Err *error, closeFn func() error) {
	assert.Assert(Err != nil,
		"VerifyError must be called with non-nil Err slot") // programmer error
	if err := closeFn(); err != nil && *Err == nil {
		*Err = err
	}
}

// VerifyClose is shorthand for `VerifyError(Err, closer.Close)`.
func VerifyClose(Err *error, closer io.Closer) {
	VerifyError(Err, closer.Close)
}
