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
	"sort"
	"strings"

	"github.com/gravitational/trace"
)

// GrantOption is the synthetic privilege recorded when a grant line
// carries the WITH GRANT OPTION marker.
const GrantOption = "GRANT OPTION"

// allPrivilegesToken is the aggregate SHOW GRANTS emits for accounts
// holding everything. Callers depend on enumerated names, so the
// introspector always expands it.
const allPrivilegesToken = "ALL PRIVILEGES"

// AllPrivileges is the fixed enumeration the aggregate token expands
// to: every granular global privilege the tool recognizes.
var AllPrivileges = []string{
	"ALTER",
	"ALTER ROUTINE",
	"CREATE",
	"CREATE ROUTINE",
	"CREATE TABLESPACE",
	"CREATE TEMPORARY TABLES",
	"CREATE USER",
	"CREATE VIEW",
	"DELETE",
	"DROP",
	"EVENT",
	"EXECUTE",
	"FILE",
	"INDEX",
	"INSERT",
	"LOCK TABLES",
	"PROCESS",
	"REFERENCES",
	"RELOAD",
	"REPLICATION CLIENT",
	"REPLICATION SLAVE",
	"SELECT",
	"SHOW DATABASES",
	"SHOW VIEW",
	"SHUTDOWN",
	"SUPER",
	"TRIGGER",
	"UPDATE",
}

// PrivilegeSet is a set of normalized, uppercase privilege names.
type PrivilegeSet map[string]struct{}

// Add inserts a privilege name into the set.
func (s PrivilegeSet) Add(name string) {
	s[name] = struct{}{}
}

// Contains reports whether the set holds the given privilege.
func (s PrivilegeSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Sorted returns the privilege names in lexical order.
func (s PrivilegeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FetchPrivileges lists the global privileges of whichever user conn
// is currently authenticated as. Grants scoped to a specific schema
// are deliberately ignored: the tool only keys off global privileges.
func FetchPrivileges(conn Conn) (PrivilegeSet, error) {
	res, err := conn.Execute("SHOW GRANTS")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	set := make(PrivilegeSet)
	grantOption := false
	for _, row := range res.Rows {
		if len(row) == 0 {
			continue
		}
		privs, opt, ok := parseGrantLine(row[0])
		if !ok {
			continue
		}
		for _, priv := range privs {
			set.Add(priv)
		}
		if opt {
			grantOption = true
		}
	}
	if set.Contains(allPrivilegesToken) {
		set = make(PrivilegeSet)
		for _, priv := range AllPrivileges {
			set.Add(priv)
		}
	}
	if grantOption {
		set.Add(GrantOption)
	}
	return set, nil
}

// parseGrantLine parses one line of SHOW GRANTS output:
//
//	GRANT <priv>[, <priv>...] ON <scope> TO <grantee> [WITH GRANT OPTION]
//
// Only global scope lines (*.*) contribute privileges. The returned
// names are uppercased with internal whitespace collapsed.
func parseGrantLine(line string) (privs []string, grantOption bool, ok bool) {
	upper := strings.ToUpper(strings.TrimSpace(line))
	if !strings.HasPrefix(upper, "GRANT ") {
		return nil, false, false
	}
	rest := upper[len("GRANT "):]
	onIdx := strings.Index(rest, " ON ")
	if onIdx < 0 {
		return nil, false, false
	}
	scopeAndGrantee := rest[onIdx+len(" ON "):]
	toIdx := strings.Index(scopeAndGrantee, " TO ")
	if toIdx < 0 {
		return nil, false, false
	}
	if strings.TrimSpace(scopeAndGrantee[:toIdx]) != "*.*" {
		return nil, false, false
	}
	for _, name := range strings.Split(rest[:onIdx], ",") {
		// Collapse "CREATE  TEMPORARY TABLES" style spacing.
		name = strings.Join(strings.Fields(name), " ")
		if name != "" {
			privs = append(privs, name)
		}
	}
	return privs, strings.HasSuffix(upper, " WITH GRANT OPTION"), true
}
