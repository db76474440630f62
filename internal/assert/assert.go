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

// Package assert holds the panicking checks nstar uses for programmer errors:
// reusing a spent privilege token, closing a host handle twice or entering
// namespaces out of order. None of these are reachable from user input, so
// they are not reported as errors.
package assert

import (
	"fmt"
)

// Assert panics with msg if predicate is false.
func Assert(predicate bool, msg any) {
	if !predicate {
		panic(msg)
	}
}

// Assertf is Assert with a [fmt.Sprintf] formatted message.
func Assertf(predicate bool, fmtMsg string, args ...any) {
	if !predicate {
		panic(fmt.Sprintf(fmtMsg, args...))
	}
}

// Unreachable panics unconditionally. It marks code that only runs if a
// non-returning operation (such as execveat(2)) came back.
func Unreachable(what string) {
	panic("unreachable: " + what)
}
