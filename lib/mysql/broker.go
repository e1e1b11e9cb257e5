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
	"context"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/websql/websql"
)

// Credentials identify an end user of the admin tool for the duration
// of one request. The plaintext password lives only in request scope:
// it is never persisted and never logged.
type Credentials struct {
	// User is the MySQL account name.
	User string
	// Password is the account password in plaintext.
	Password string
	// HostPattern is the client host pattern the server resolved the
	// account to at login, e.g. "%" or "10.0.%".
	HostPattern string
}

// Broker hands out pooled connections re-authenticated as end users.
//
// Re-authenticating an existing pooled connection skips the TCP and
// TLS handshake cost of a fresh connection per request while the
// database server still enforces the impersonated user's privileges.
type Broker struct {
	pool   *Pool
	schema string
	log    *log.Entry
}

// NewBroker returns a broker leasing from pool. schema is the default
// working schema selected on impersonation, may be empty.
func NewBroker(pool *Pool, schema string) *Broker {
	return &Broker{
		pool:   pool,
		schema: schema,
		log: log.WithFields(log.Fields{
			websql.Component: websql.ComponentBroker,
		}),
	}
}

// AcquireAs leases a system connection and re-authenticates it in
// place as creds. When the user is valid but has no access to the
// default schema, the re-authentication is retried exactly once with
// no schema selected; the session then simply has no active schema.
// The caller must return the lease through Release on every exit
// path.
func (b *Broker) AcquireAs(ctx context.Context, creds Credentials) (*PooledConn, error) {
	pc, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	err = pc.ChangeUser(creds.User, creds.Password, b.schema)
	if IsSchemaAccessDeniedError(err) {
		b.log.Debugf("User %q has no access to schema %q, retrying without a schema.", creds.User, b.schema)
		err = pc.ChangeUser(creds.User, creds.Password, "")
	}
	if err != nil {
		if !IsServerError(err) {
			// Wire-level failure mid-handshake, the connection
			// state is unknown.
			pc.MarkBroken()
		}
		b.pool.Release(pc)
		if IsAccessDeniedError(err) {
			return nil, trace.AccessDenied("database server rejected credentials for user %q: %v", creds.User, err)
		}
		return nil, trace.Wrap(err)
	}

	pc.impersonated = true
	return pc, nil
}

// Release restores the system identity on an impersonated lease and
// returns it to the pool. Safe to call on leases that were never
// impersonated and on nil.
func (b *Broker) Release(pc *PooledConn) {
	if pc == nil {
		return
	}
	if pc.impersonated && !pc.broken && !b.pool.stale(pc) {
		system := b.pool.ClientConfig()
		if err := pc.ChangeUser(system.User, system.Password, ""); err != nil {
			b.log.Warningf("Failed to restore system identity on pooled connection: %v.", err)
			pc.MarkBroken()
		} else {
			pc.impersonated = false
		}
	}
	b.pool.Release(pc)
}
