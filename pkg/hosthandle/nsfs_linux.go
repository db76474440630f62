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
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NS_GET_NSTYPE from <linux/nsfs.h>.
const nsGetNstype = 0xb703

func verifyNamespace(fh *os.File, kind Kind) error {
	var st unix.Statfs_t
	if err := unix.Fstatfs(int(fh.Fd()), &st); err != nil {
		return &os.PathError{Op: "fstatfs", Path: fh.Name(), Err: err}
	}
	if st.Type != unix.NSFS_MAGIC {
		return &os.PathError{
			Op:   "open " + kind.String(),
			Path: fh.Name(),
			Err:  fmt.Errorf("%w: filesystem magic %#x is not nsfs", ErrWrongKind, st.Type),
		}
	}

	nstype, err := unix.IoctlRetInt(int(fh.Fd()), nsGetNstype)
	if err != nil {
		// NS_GET_NSTYPE appeared in Linux 4.11.
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
			return nil
		}
		return &os.PathError{Op: "ioctl NS_GET_NSTYPE", Path: fh.Name(), Err: err}
	}
	if nstype != kind.CloneFlag() {
		return &os.PathError{
			Op:   "open " + kind.String(),
			Path: fh.Name(),
			Err:  fmt.Errorf("%w: namespace type %#x", ErrWrongKind, nstype),
		}
	}
	return nil
}
