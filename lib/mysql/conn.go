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

// Package mysql implements the MySQL side of websql: the shared
// connection pool, in-place connection impersonation via
// COM_CHANGE_USER, and privilege introspection over SHOW GRANTS.
package mysql

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/go-mysql-org/go-mysql/client"
	mysqllib "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"

	"github.com/websql/websql/lib/defaults"
	"github.com/websql/websql/lib/utils"
)

// Conn is the subset of a MySQL client connection the rest of the
// codebase relies on. Decoupling from the driver type keeps the pool,
// the broker and the session store testable with fakes.
type Conn interface {
	// Execute runs a single statement with optional placeholder args.
	Execute(command string, args ...interface{}) (*Result, error)
	// ChangeUser re-authenticates the connection in place as a
	// different user, selecting schema as the default (may be empty).
	ChangeUser(user, password, schema string) error
	// Ping checks the connection is still alive.
	Ping() error
	// Close tears the network connection down.
	Close() error
}

// Result is a minimal, driver-independent query result. Every value
// comes back in its MySQL text form.
type Result struct {
	// Columns holds the column names, in select order.
	Columns []string
	// Rows holds one string per column per returned row.
	Rows [][]string
	// AffectedRows is the row count reported for DML statements.
	AffectedRows uint64
}

// ClientConfig describes how to reach and authenticate to the MySQL
// server.
type ClientConfig struct {
	// Host is the server hostname or address.
	Host string
	// Port is the server port, defaults.MySQLPort when zero.
	Port int
	// User is the account to authenticate as.
	User string
	// Password is the account password.
	Password string
	// Schema is the initial default schema, may be empty.
	Schema string
	// TLS enables transport security when non-nil.
	TLS *tls.Config
}

// Addr returns the dialable "host:port" form of the config.
func (c ClientConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = defaults.MySQLPort
	}
	return utils.HostPort(c.Host, port)
}

// Dial establishes and authenticates a single connection described by
// cfg. Network and handshake failures surface as connection problems,
// rejected credentials as access denied.
func Dial(ctx context.Context, cfg ClientConfig) (Conn, error) {
	var opts []client.Option
	if cfg.TLS != nil {
		opts = append(opts, func(c *client.Conn) error {
			c.SetTLSConfig(cfg.TLS)
			return nil
		})
	}
	dialer := &net.Dialer{}
	conn, err := client.ConnectWithDialer(ctx, "tcp", cfg.Addr(),
		cfg.User, cfg.Password, cfg.Schema, dialer.DialContext, opts...)
	if err != nil {
		return nil, ConvertError(err)
	}
	if err := conn.SetCharset(defaults.MySQLCharset); err != nil {
		conn.Close()
		return nil, ConvertError(err)
	}
	return &clientConn{conn: conn, tls: cfg.TLS != nil}, nil
}

// clientConn adapts the go-mysql driver connection to the Conn
// interface.
type clientConn struct {
	conn *client.Conn
	tls  bool
}

func (c *clientConn) Execute(command string, args ...interface{}) (*Result, error) {
	res, err := c.conn.Execute(command, args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	return newResult(res)
}

func (c *clientConn) Ping() error {
	return ConvertError(c.conn.Ping())
}

func (c *clientConn) Close() error {
	return trace.ConvertSystemError(c.conn.Close())
}

// newResult copies the driver result into the lightweight form and
// returns the driver buffers to their pool.
func newResult(res *mysqllib.Result) (*Result, error) {
	out := &Result{}
	if res == nil {
		return out, nil
	}
	defer res.Close()
	out.AffectedRows = res.AffectedRows
	if res.Resultset == nil {
		return out, nil
	}
	for _, field := range res.Fields {
		out.Columns = append(out.Columns, string(field.Name))
	}
	for i := 0; i < res.RowNumber(); i++ {
		row := make([]string, res.ColumnNumber())
		for j := range row {
			value, err := res.GetString(i, j)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			row[j] = value
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
