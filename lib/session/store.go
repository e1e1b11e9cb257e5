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

// Package session persists login sessions in the MySQL server itself,
// keyed by the opaque bearer token handed to the browser.
package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/websql/websql"
	"github.com/websql/websql/lib/defaults"
	"github.com/websql/websql/lib/mysql"
	"github.com/websql/websql/lib/utils"
)

// Session is one active login. Rows are created at login, deleted at
// logout and otherwise never mutated.
type Session struct {
	// Token is the opaque bearer token identifying the session.
	Token string
	// User is the MySQL account name.
	User string
	// Host is the client host pattern the server resolved the account
	// to at login.
	Host string
	// EncryptedPassword is the secret.Cipher ciphertext of the
	// account password.
	EncryptedPassword string
	// ExpiresAt is the absolute expiry time.
	ExpiresAt time.Time
}

// Config configures a Store.
type Config struct {
	// Pool supplies system connections. The store leases one per call
	// and never holds one between calls.
	Pool *mysql.Pool
	// Clock is used for expiry checks, defaults to the wall clock.
	Clock clockwork.Clock
}

// Store reads and writes the session table over system connections.
type Store struct {
	pool  *mysql.Pool
	clock clockwork.Clock
	log   *log.Entry
}

// New returns a session store backed by cfg.Pool.
func New(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, trace.BadParameter("missing connection pool")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Store{
		pool:  cfg.Pool,
		clock: cfg.Clock,
		log: log.WithFields(log.Fields{
			websql.Component: websql.ComponentSession,
		}),
	}, nil
}

// Init creates the session table when it does not exist yet. Expiry
// is stored as unix seconds so the table behaves the same regardless
// of the server time zone.
func (s *Store) Init(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	defer s.pool.Release(conn)

	_, err = conn.Execute(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%v` ("+
			"`token` VARCHAR(64) NOT NULL PRIMARY KEY, "+
			"`user` VARCHAR(128) NOT NULL, "+
			"`host` VARCHAR(255) NOT NULL, "+
			"`encrypted_password` TEXT NOT NULL, "+
			"`expires_at` BIGINT NOT NULL)",
		defaults.SessionTableName))
	return trace.Wrap(err)
}

// Create stores a new session and returns its token. Token collisions
// are possible in principle at 256 bits of entropy and not checked.
func (s *Store) Create(ctx context.Context, user, host, encryptedPassword string, ttl time.Duration) (string, error) {
	token, err := utils.CryptoRandomHex(defaults.SessionTokenBytes)
	if err != nil {
		return "", trace.Wrap(err)
	}
	expiresAt := s.clock.Now().Add(ttl)

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", trace.Wrap(err)
	}
	defer s.pool.Release(conn)

	_, err = conn.Execute(fmt.Sprintf(
		"INSERT INTO `%v` (`token`, `user`, `host`, `encrypted_password`, `expires_at`) VALUES (?, ?, ?, ?, ?)",
		defaults.SessionTableName),
		token, user, host, encryptedPassword, expiresAt.Unix())
	if err != nil {
		return "", trace.Wrap(err)
	}
	s.log.Debugf("Created session for %v@%v, expires %v.", user, host, expiresAt.UTC().Format(time.RFC3339))
	return token, nil
}

// Get returns the session for token. Missing rows and rows whose
// expiry has passed both come back as a not found error: expired
// sessions are invisible, not eagerly deleted.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer s.pool.Release(conn)

	res, err := conn.Execute(fmt.Sprintf(
		"SELECT `user`, `host`, `encrypted_password`, `expires_at` FROM `%v` WHERE `token` = ?",
		defaults.SessionTableName), token)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(res.Rows) == 0 {
		return nil, trace.NotFound("session not found")
	}
	row := res.Rows[0]
	if len(row) != 4 {
		return nil, trace.BadParameter("malformed session row")
	}
	expiresUnix, err := strconv.ParseInt(row[3], 10, 64)
	if err != nil {
		return nil, trace.BadParameter("malformed session expiry %q", row[3])
	}
	session := &Session{
		Token:             token,
		User:              row[0],
		Host:              row[1],
		EncryptedPassword: row[2],
		ExpiresAt:         time.Unix(expiresUnix, 0),
	}
	if !session.ExpiresAt.After(s.clock.Now()) {
		return nil, trace.NotFound("session not found")
	}
	return session, nil
}

// Delete removes the session row. Deleting a token that does not
// exist is not an error, so logout stays idempotent.
func (s *Store) Delete(ctx context.Context, token string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	defer s.pool.Release(conn)

	_, err = conn.Execute(fmt.Sprintf(
		"DELETE FROM `%v` WHERE `token` = ?", defaults.SessionTableName), token)
	if err != nil {
		return trace.Wrap(err)
	}
	s.log.Debugf("Deleted session %v.", utils.ObfuscateString(token))
	return nil
}

// DeleteExpired reaps rows whose expiry has passed and returns how
// many were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	defer s.pool.Release(conn)

	res, err := conn.Execute(fmt.Sprintf(
		"DELETE FROM `%v` WHERE `expires_at` <= ?", defaults.SessionTableName),
		s.clock.Now().Unix())
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return int(res.AffectedRows), nil
}

// RunCleanup periodically reaps expired rows until ctx is canceled.
// Lookup-time expiry in Get stays the correctness mechanism, the
// sweep only keeps the table from growing without bound.
func (s *Store) RunCleanup(ctx context.Context) {
	ticker := s.clock.NewTicker(defaults.SessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			removed, err := s.DeleteExpired(ctx)
			if err != nil {
				s.log.Warningf("Failed to reap expired sessions: %v.", err)
				continue
			}
			if removed > 0 {
				s.log.Debugf("Reaped %v expired sessions.", removed)
			}
		}
	}
}
