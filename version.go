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

// Filled in at build time with -ldflags "-X ...".
var (
	version   = ""
	gitCommit = ""
)

// FullVersion returns the version string shown by --version.
func FullVersion() string {
	v := version
	if v == "" {
		v = "unknown"
	}
	if gitCommit != "" {
		v += "~git" + gitCommit
	}
	return v
}
