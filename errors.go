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
	"errors"
)

// Error kinds. Every error returned by this package is an *Error matching
// exactly one of these with errors.Is.
var (
	ErrUsage      = errors.New("usage error")
	ErrAcquire    = errors.New("cannot acquire host resource")
	ErrNamespace  = errors.New("cannot enter namespace")
	ErrIdentity   = errors.New("cannot resolve identity")
	ErrFilesystem = errors.New("filesystem error")
	ErrPrivilege  = errors.New("cannot change privileges")
	ErrLaunch     = errors.New("cannot launch archive tool")
)

// Error records the step that failed and why.
type Error struct {
	Kind error
	Step string
	Err  error
}

func (e *Error) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrIdentity) and friends work.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func wrap(kind error, step string, err error) error {
	return &Error{Kind: kind, Step: step, Err: err}
}

func usageError(err error) error {
	return wrap(ErrUsage, "parse arguments", err)
}
