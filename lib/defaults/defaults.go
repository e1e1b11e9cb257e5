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

// Package defaults contains default constants set in various parts of
// the websql codebase
package defaults

import "time"

const (
	// HTTPListenAddr is the address the web API binds to when the
	// config file does not say otherwise
	HTTPListenAddr = "0.0.0.0:3370"

	// MySQLPort is the standard MySQL server port
	MySQLPort = 3306

	// MySQLCharset is the character set requested on every connection,
	// pooled or direct
	MySQLCharset = "utf8mb4"

	// PoolMaxConnections caps the number of MySQL connections kept by
	// the shared pool. Callers over the cap wait, they do not fail.
	PoolMaxConnections = 4

	// SessionTTL is how long a login session stays valid
	SessionTTL = 12 * time.Hour

	// SessionTokenBytes is the number of random bytes in a session
	// token, hex encoded on the wire (256 bits of entropy)
	SessionTokenBytes = 32

	// SessionCleanupInterval is how often the store reaps expired
	// session rows. Expiry is enforced at lookup time regardless,
	// the sweep only keeps the table from growing.
	SessionCleanupInterval = 15 * time.Minute

	// SessionTableName is the MySQL table holding active sessions
	SessionTableName = "websql_sessions"

	// PlaceholderSecretKey ships in the sample config file. The daemon
	// refuses to start while the secret still has this value.
	PlaceholderSecretKey = "insert-a-long-random-string-here"

	// LogSeverity is the logrus level name used when the config file
	// does not set one
	LogSeverity = "info"

	// ReadHeaderTimeout is the HTTP server header read timeout
	ReadHeaderTimeout = 10 * time.Second

	// ShutdownTimeout bounds graceful HTTP shutdown on SIGTERM
	ShutdownTimeout = 30 * time.Second
)
