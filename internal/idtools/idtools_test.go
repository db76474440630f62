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

package idtools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	rspec "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToHostNil(t *testing.T) {
	for _, test := range []int{
		1337,
		8000,
		2222,
		0,
		1,
	} {
		id, err := ToHost(test, nil)
		require.NoErrorf(t, err, "should be able to map container id %d", test)
		assert.Equalf(t, test, id, "map container id %d", test)
	}
}

func TestToHostMultiple(t *testing.T) {
	idMap := []rspec.LinuxIDMapping{
		{
			HostID:      2222,
			ContainerID: 0,
			Size:        100,
		},
		{
			HostID:      7777,
			ContainerID: 100,
			Size:        300,
		},
		{
			HostID:      9001,
			ContainerID: 9001,
			Size:        1,
		},
	}

	for _, test := range []struct {
		host, container int
		failure         bool
	}{
		{host: 9001, container: 9001, failure: false},
		{host: 2222, container: 0, failure: false},
		{host: 2272, container: 50, failure: false},
		{host: 2321, container: 99, failure: false},
		{host: 7777, container: 100, failure: false},
		{host: 8010, container: 333, failure: false},
		{host: 8076, container: 399, failure: false},
		{host: -1, container: 400, failure: true},
		{host: -1, container: -1, failure: true},
	} {
		id, err := ToHost(test.container, idMap)
		if test.failure {
			assert.ErrorContainsf(t, err, "cannot be mapped to a host id", "should get an error with container id %d", test.container)
		} else {
			require.NoErrorf(t, err, "should be able to map container id %d", test.container)
			assert.Equalf(t, test.host, id, "map container id %d", test.container)
		}
	}
}

func TestToHostFullRange(t *testing.T) {
	// What an initial user namespace reports.
	idMap := []rspec.LinuxIDMapping{{ContainerID: 0, HostID: 0, Size: 4294967295}}

	for _, test := range []int{0, 1000, 65534, 4294967294} {
		id, err := ToHost(test, idMap)
		require.NoErrorf(t, err, "should be able to map container id %d", test)
		assert.Equalf(t, test, id, "map container id %d", test)
	}
}

func TestParseIDMapping(t *testing.T) {
	for _, test := range []struct {
		spec                  string
		host, container, size uint32
		failure               bool
	}{
		{spec: "0:0:1", host: 0, container: 0, size: 1, failure: false},
		{spec: "32:100:2421", host: 100, container: 32, size: 2421, failure: false},
		{spec: "2:1", host: 1, container: 2, size: 1, failure: false},
		{spec: "", failure: true},
		{spec: "::", failure: true},
		{spec: "1:2:", failure: true},
		{spec: "in:va:lid", failure: true},
	} {
		idMap, err := ParseMapping(test.spec)
		if test.failure {
			assert.ErrorContainsf(t, err, "invalid", "should get an error with mapping %q", test.spec)
		} else {
			require.NoErrorf(t, err, "should be able to parse mapping %q", test.spec)
			assert.Equalf(t, test.host, idMap.HostID, "invalid host id for mapping %q", test.spec)
			assert.Equalf(t, test.container, idMap.ContainerID, "invalid container id for mapping %q", test.spec)
			assert.Equalf(t, test.size, idMap.Size, "invalid size for mapping %q", test.spec)
		}
	}
}

func TestParseMappings(t *testing.T) {
	idMap, err := ParseMappings("")
	require.NoError(t, err)
	assert.Nil(t, idMap, "empty list is the identity mapping")

	idMap, err = ParseMappings("0:100000:65536,65536:1000:1")
	require.NoError(t, err)
	assert.Equal(t, []rspec.LinuxIDMapping{
		{ContainerID: 0, HostID: 100000, Size: 65536},
		{ContainerID: 65536, HostID: 1000, Size: 1},
	}, idMap)
	assert.Equal(t, "0:100000:65536,65536:1000:1", FormatMappings(idMap))

	_, err = ParseMappings("0:100000:65536,bogus")
	assert.ErrorContains(t, err, "invalid")
}

func TestParseProcMap(t *testing.T) {
	for _, test := range []struct {
		name    string
		content string
		want    []rspec.LinuxIDMapping
		failure bool
	}{
		{
			name:    "Initial",
			content: "         0          0 4294967295\n",
			want:    []rspec.LinuxIDMapping{{ContainerID: 0, HostID: 0, Size: 4294967295}},
		},
		{
			name:    "Rootless",
			content: "         0       1000          1\n         1     100000      65536\n",
			want: []rspec.LinuxIDMapping{
				{ContainerID: 0, HostID: 1000, Size: 1},
				{ContainerID: 1, HostID: 100000, Size: 65536},
			},
		},
		{name: "Empty", content: "", want: nil},
		{name: "ShortLine", content: "0 1000\n", failure: true},
		{name: "NotANumber", content: "0 host 1\n", failure: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			idMap, err := ParseProcMap(strings.NewReader(test.content))
			if test.failure {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, idMap)
		})
	}
}

func TestReadProcMap(t *testing.T) {
	t.Run("Self", func(t *testing.T) {
		idMap, err := ReadProcMap("/proc/self/uid_map")
		require.NoError(t, err, "read own uid_map")
		assert.NotEmpty(t, idMap, "every process has at least one uid mapping")
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := ReadProcMap(filepath.Join(t.TempDir(), "uid_map"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
