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

package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/websql/websql/lib/mysql"
	"github.com/websql/websql/lib/utils"
)

func TestMain(m *testing.M) {
	utils.InitLoggerForTests()
	m.Run()
}

// fakeTable emulates the session table shared by all connections of a
// test pool.
type fakeTable struct {
	mu   sync.Mutex
	rows map[string][]string // token -> user, host, encrypted password, expiry
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: make(map[string][]string)}
}

// tableConn implements mysql.Conn against the fake table.
type tableConn struct {
	table *fakeTable
}

func (c *tableConn) Execute(command string, args ...interface{}) (*mysql.Result, error) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	switch {
	case strings.HasPrefix(command, "CREATE TABLE"):
		return &mysql.Result{}, nil
	case strings.HasPrefix(command, "INSERT"):
		token := args[0].(string)
		c.table.rows[token] = []string{
			args[1].(string),
			args[2].(string),
			args[3].(string),
			strconv.FormatInt(args[4].(int64), 10),
		}
		return &mysql.Result{AffectedRows: 1}, nil
	case strings.HasPrefix(command, "SELECT"):
		row, ok := c.table.rows[args[0].(string)]
		if !ok {
			return &mysql.Result{}, nil
		}
		return &mysql.Result{Rows: [][]string{row}}, nil
	case strings.Contains(command, "WHERE `token`"):
		token := args[0].(string)
		if _, ok := c.table.rows[token]; !ok {
			return &mysql.Result{}, nil
		}
		delete(c.table.rows, token)
		return &mysql.Result{AffectedRows: 1}, nil
	case strings.Contains(command, "WHERE `expires_at`"):
		cutoff := args[0].(int64)
		var removed uint64
		for token, row := range c.table.rows {
			expires, err := strconv.ParseInt(row[3], 10, 64)
			if err != nil {
				return nil, trace.BadParameter("bad expiry in fake table")
			}
			if expires <= cutoff {
				delete(c.table.rows, token)
				removed++
			}
		}
		return &mysql.Result{AffectedRows: removed}, nil
	}
	return nil, trace.BadParameter("unexpected statement %q", command)
}

func (c *tableConn) ChangeUser(user, password, schema string) error { return nil }
func (c *tableConn) Ping() error                                    { return nil }
func (c *tableConn) Close() error                                   { return nil }

func newTestStore(t *testing.T, clock clockwork.Clock) (*Store, *fakeTable) {
	t.Helper()
	table := newFakeTable()
	pool, err := mysql.NewPool(mysql.PoolConfig{
		Client: mysql.ClientConfig{
			Host:     "db.example.com",
			User:     "websql-system",
			Password: "system-pw",
		},
		DialFn: func(ctx context.Context, cfg mysql.ClientConfig) (mysql.Conn, error) {
			return &tableConn{table: table}, nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	store, err := New(Config{Pool: pool, Clock: clock})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	return store, table
}

func TestSessionLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, _ := newTestStore(t, clock)
	ctx := context.Background()

	token, err := store.Create(ctx, "alice", "%", "ciphertext", time.Hour)
	require.NoError(t, err)
	require.Len(t, token, 64)

	session, err := store.Get(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "alice", session.User)
	require.Equal(t, "%", session.Host)
	require.Equal(t, "ciphertext", session.EncryptedPassword)
	require.Equal(t, clock.Now().Add(time.Hour).Unix(), session.ExpiresAt.Unix())

	require.NoError(t, store.Delete(ctx, token))
	_, err = store.Get(ctx, token)
	require.True(t, trace.IsNotFound(err))

	// Logout of an already deleted session succeeds.
	require.NoError(t, store.Delete(ctx, token))
}

func TestUnknownTokenIsNotFound(t *testing.T) {
	store, _ := newTestStore(t, clockwork.NewFakeClock())

	_, err := store.Get(context.Background(), "no-such-token")
	require.True(t, trace.IsNotFound(err))
}

func TestExpiredSessionIsInvisible(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, table := newTestStore(t, clock)
	ctx := context.Background()

	token, err := store.Create(ctx, "alice", "%", "ciphertext", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)

	// Expired rows are invisible to Get but still on disk until the
	// sweep runs.
	_, err = store.Get(ctx, token)
	require.True(t, trace.IsNotFound(err))
	table.mu.Lock()
	require.Len(t, table.rows, 1)
	table.mu.Unlock()

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	table.mu.Lock()
	require.Empty(t, table.rows)
	table.mu.Unlock()
}

func TestTokensAreUnique(t *testing.T) {
	store, _ := newTestStore(t, clockwork.NewFakeClock())
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		token, err := store.Create(ctx, "alice", "%", "ciphertext", time.Hour)
		require.NoError(t, err)
		require.False(t, seen[token])
		seen[token] = true
	}
}
