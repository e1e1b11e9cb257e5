/*
Copyright 2024 WebSQL, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// grantsConn serves canned SHOW GRANTS output.
func grantsConn(lines ...string) Conn {
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, []string{line})
	}
	return &fakeConn{
		executeFn: func(command string, args ...interface{}) (*Result, error) {
			return &Result{
				Columns: []string{"Grants for user"},
				Rows:    rows,
			}, nil
		},
	}
}

func TestFetchPrivileges(t *testing.T) {
	tests := []struct {
		desc   string
		grants []string
		want   []string
	}{
		{
			desc:   "global grant with grant option",
			grants: []string{"GRANT SELECT, INSERT ON *.* TO 'alice'@'%' WITH GRANT OPTION"},
			want:   []string{"GRANT OPTION", "INSERT", "SELECT"},
		},
		{
			desc:   "all privileges expands to the enumeration",
			grants: []string{"GRANT ALL PRIVILEGES ON *.* TO 'root'@'localhost'"},
			want:   AllPrivileges,
		},
		{
			desc: "all privileges with grant option keeps the synthetic privilege",
			grants: []string{
				"GRANT ALL PRIVILEGES ON *.* TO 'root'@'localhost' WITH GRANT OPTION",
			},
			want: append(append([]string{}, AllPrivileges...), GrantOption),
		},
		{
			desc: "schema scoped grants are ignored",
			grants: []string{
				"GRANT USAGE ON *.* TO 'bob'@'%'",
				"GRANT SELECT, UPDATE ON `app`.* TO 'bob'@'%'",
			},
			want: []string{"USAGE"},
		},
		{
			desc: "multiple global lines union",
			grants: []string{
				"GRANT SELECT ON *.* TO 'carol'@'%'",
				"GRANT PROCESS, RELOAD ON *.* TO 'carol'@'%'",
			},
			want: []string{"PROCESS", "RELOAD", "SELECT"},
		},
		{
			desc:   "casing and spacing normalize",
			grants: []string{"grant select ,  create temporary tables on *.* to 'dave'@'%'"},
			want:   []string{"CREATE TEMPORARY TABLES", "SELECT"},
		},
		{
			desc:   "proxy grants do not parse as global",
			grants: []string{"GRANT PROXY ON ''@'' TO 'eve'@'%' WITH GRANT OPTION"},
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			set, err := FetchPrivileges(grantsConn(tt.grants...))
			require.NoError(t, err)
			want := make(PrivilegeSet)
			for _, priv := range tt.want {
				want.Add(priv)
			}
			require.Equal(t, want.Sorted(), set.Sorted())
		})
	}
}

func TestParseGrantLineRejectsNoise(t *testing.T) {
	for _, line := range []string{
		"",
		"REVOKE SELECT ON *.* FROM 'alice'@'%'",
		"GRANT SELECT",
		"GRANT SELECT ON *.*",
	} {
		_, _, ok := parseGrantLine(line)
		require.False(t, ok, "line %q", line)
	}
}
