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

package hosthandle

import (
	"github.com/hashicorp/go-multierror"
)

// Set is the group of handles acquired on the host before any namespace
// transition. User is nil if the target's user namespace could not be opened
// or is not distinct from nstar's own.
type Set struct {
	Mount *Handle
	User  *Handle
	Tool  *Handle
}

func (s *Set) handles() []*Handle {
	return []*Handle{s.Mount, s.User, s.Tool}
}

// Inherit marks every open handle in the set to survive execve(2).
func (s *Set) Inherit() error {
	for _, h := range s.handles() {
		if h == nil || h.Closed() {
			continue
		}
		if err := h.Inherit(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the handles that are still open. Handles that have already
// been consumed are skipped, so Close is safe to defer on every path.
func (s *Set) Close() error {
	var errs *multierror.Error
	for _, h := range s.handles() {
		if h == nil || h.Closed() {
			continue
		}
		if err := h.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
