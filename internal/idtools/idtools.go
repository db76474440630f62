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

// Package idtools provides helpers for dealing with Linux ID mappings, both
// as the kernel reports them in /proc/<pid>/{uid,gid}_map and in the compact
// "container:host[:size]" form nstar uses to hand them across a re-exec.
package idtools

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	rspec "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/opencontainers/nstar/internal/funchelpers"
)

// ToHost translates a remapped container ID to an unmapped host ID using the
// provided ID mapping. If no mapping is provided, then the mapping is a no-op.
// If there is no mapping for the given ID an error is returned.
func ToHost(contID int, idMap []rspec.LinuxIDMapping) (int, error) {
	if idMap == nil {
		return contID, nil
	}
	if contID < 0 {
		return -1, fmt.Errorf("container id %d cannot be mapped to a host id", contID)
	}

	for _, m := range idMap {
		// Compare in 64 bits, a full-range mapping has ContainerID+Size == 1<<32.
		id, start := uint64(contID), uint64(m.ContainerID)
		if id >= start && id < start+uint64(m.Size) {
			return int(uint64(m.HostID) + (id - start)), nil
		}
	}

	return -1, fmt.Errorf("container id %d cannot be mapped to a host id", contID)
}

// Helper to return a uint32 from strconv.ParseUint type-safely.
func parseUint32(str string) (uint32, error) {
	val, err := strconv.ParseUint(str, 10, 32)
	return uint32(val), err
}

// ParseMapping takes a mapping string of the form "container:host[:size]" and
// returns the corresponding rspec.LinuxIDMapping. An error is returned if not
// enough fields are provided or are otherwise invalid. The default size is 1.
func ParseMapping(spec string) (rspec.LinuxIDMapping, error) {
	parts := strings.Split(spec, ":")

	var err error
	var hostID, contID, size uint32
	switch len(parts) {
	case 3:
		size, err = parseUint32(parts[2])
		if err != nil {
			return rspec.LinuxIDMapping{}, fmt.Errorf("invalid size in mapping: %w", err)
		}
	case 2:
		size = 1
	default:
		return rspec.LinuxIDMapping{}, fmt.Errorf("invalid number of fields in mapping %q: %d", spec, len(parts))
	}

	contID, err = parseUint32(parts[0])
	if err != nil {
		return rspec.LinuxIDMapping{}, fmt.Errorf("invalid containerID in mapping: %w", err)
	}

	hostID, err = parseUint32(parts[1])
	if err != nil {
		return rspec.LinuxIDMapping{}, fmt.Errorf("invalid hostID in mapping: %w", err)
	}

	return rspec.LinuxIDMapping{
		HostID:      hostID,
		ContainerID: contID,
		Size:        size,
	}, nil
}

// FormatMapping is the inverse of ParseMapping. The size is always included.
func FormatMapping(m rspec.LinuxIDMapping) string {
	return fmt.Sprintf("%d:%d:%d", m.ContainerID, m.HostID, m.Size)
}

// ParseMappings parses a comma-separated list of ParseMapping entries. An
// empty string yields a nil mapping (which ToHost treats as the identity).
func ParseMappings(list string) ([]rspec.LinuxIDMapping, error) {
	if list == "" {
		return nil, nil
	}
	var idMap []rspec.LinuxIDMapping
	for _, spec := range strings.Split(list, ",") {
		m, err := ParseMapping(spec)
		if err != nil {
			return nil, err
		}
		idMap = append(idMap, m)
	}
	return idMap, nil
}

// FormatMappings is the inverse of ParseMappings.
func FormatMappings(idMap []rspec.LinuxIDMapping) string {
	specs := make([]string, 0, len(idMap))
	for _, m := range idMap {
		specs = append(specs, FormatMapping(m))
	}
	return strings.Join(specs, ",")
}

// ParseProcMap parses the contents of a /proc/<pid>/uid_map or gid_map file.
// Each line has three whitespace-separated fields: the first id inside the
// namespace, the first id outside of it and the length of the range.
func ParseProcMap(r io.Reader) ([]rspec.LinuxIDMapping, error) {
	var idMap []rspec.LinuxIDMapping

	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid number of fields on id map line %d: %d", lineNo, len(fields))
		}
		var vals [3]uint32
		for idx, field := range fields {
			val, err := parseUint32(field)
			if err != nil {
				return nil, fmt.Errorf("invalid id map line %d: %w", lineNo, err)
			}
			vals[idx] = val
		}
		idMap = append(idMap, rspec.LinuxIDMapping{
			ContainerID: vals[0],
			HostID:      vals[1],
			Size:        vals[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read id map: %w", err)
	}
	return idMap, nil
}

// ReadProcMap is ParseProcMap on the file at path.
func ReadProcMap(path string) (_ []rspec.LinuxIDMapping, Err error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer funchelpers.VerifyClose(&Err, fh)

	idMap, err := ParseProcMap(fh)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return idMap, nil
}
