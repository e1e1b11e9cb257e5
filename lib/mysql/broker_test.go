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
	"sync"
	"testing"

	mysqllib "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestBrokerImpersonates(t *testing.T) {
	dialer := &fakeDialer{}
	pool := newTestPool(t, dialer, 2)
	broker := NewBroker(pool, "app")
	ctx := context.Background()

	pc, err := broker.AcquireAs(ctx, Credentials{User: "alice", Password: "pw"})
	require.NoError(t, err)

	conn := pc.Conn.(*fakeConn)
	require.Equal(t, "alice", conn.Identity())
	require.Equal(t, "app", conn.schema)

	// Release restores the system identity before pooling.
	broker.Release(pc)
	require.Equal(t, "websql-system", conn.Identity())
	require.False(t, conn.Closed())
}

func TestBrokerSchemaFallback(t *testing.T) {
	dialer := &fakeDialer{
		setup: func(conn *fakeConn) {
			conn.changeUserFn = func(user, password, schema string) error {
				if user == "alice" && schema != "" {
					return mysqllib.NewError(mysqllib.ER_DBACCESS_DENIED_ERROR,
						"Access denied for user 'alice'@'%' to database 'app'")
				}
				return nil
			}
		},
	}
	pool := newTestPool(t, dialer, 2)
	broker := NewBroker(pool, "app")
	ctx := context.Background()

	pc, err := broker.AcquireAs(ctx, Credentials{User: "alice", Password: "pw"})
	require.NoError(t, err)
	defer broker.Release(pc)

	// The user is authenticated, just without an active schema, and
	// the retry happened exactly once.
	conn := pc.Conn.(*fakeConn)
	require.Equal(t, "alice", conn.Identity())
	require.Equal(t, "", conn.schema)
	require.Equal(t, []string{"alice@app", "alice@"}, conn.changeUsers)
}

func TestBrokerRejectsBadCredentials(t *testing.T) {
	dialer := &fakeDialer{
		setup: func(conn *fakeConn) {
			conn.changeUserFn = func(user, password, schema string) error {
				if user == "mallory" {
					return mysqllib.NewError(mysqllib.ER_ACCESS_DENIED_ERROR,
						"Access denied for user 'mallory'@'%'")
				}
				return nil
			}
		},
	}
	pool := newTestPool(t, dialer, 1)
	broker := NewBroker(pool, "app")
	ctx := context.Background()

	_, err := broker.AcquireAs(ctx, Credentials{User: "mallory", Password: "pw"})
	require.Error(t, err)
	require.True(t, trace.IsAccessDenied(err))

	// The lease went back: the single slot is immediately available
	// and the connection was kept, not closed.
	pc, err := broker.AcquireAs(ctx, Credentials{User: "alice", Password: "pw"})
	require.NoError(t, err)
	broker.Release(pc)
	require.Equal(t, 1, dialer.dialCount())
}

func TestBrokerDisconnectMarksConnectionBroken(t *testing.T) {
	dialer := &fakeDialer{
		setup: func(conn *fakeConn) {
			conn.changeUserFn = func(user, password, schema string) error {
				if user == "alice" {
					return trace.ConnectionProblem(nil, "connection reset")
				}
				return nil
			}
		},
	}
	pool := newTestPool(t, dialer, 1)
	broker := NewBroker(pool, "app")
	ctx := context.Background()

	_, err := broker.AcquireAs(ctx, Credentials{User: "alice", Password: "pw"})
	require.Error(t, err)
	require.False(t, trace.IsAccessDenied(err))

	// A wire-level failure mid re-authentication discards the
	// connection instead of pooling it in an unknown state.
	dialer.mu.Lock()
	firstConn := dialer.conns[0]
	dialer.mu.Unlock()
	require.True(t, firstConn.Closed())
}

func TestBrokerConcurrentImpersonationsAreIsolated(t *testing.T) {
	dialer := &fakeDialer{}
	pool := newTestPool(t, dialer, 2)
	broker := NewBroker(pool, "app")
	ctx := context.Background()

	users := []string{"alice", "bob"}
	conns := make([]*PooledConn, len(users))
	var wg sync.WaitGroup
	for i, user := range users {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			pc, err := broker.AcquireAs(ctx, Credentials{User: user, Password: user + "-pw"})
			require.NoError(t, err)
			conns[i] = pc
		}(i, user)
	}
	wg.Wait()

	// Each lease carries exactly its own identity.
	require.NotSame(t, conns[0].Conn, conns[1].Conn)
	require.Equal(t, "alice", conns[0].Conn.(*fakeConn).Identity())
	require.Equal(t, "bob", conns[1].Conn.(*fakeConn).Identity())

	for _, pc := range conns {
		broker.Release(pc)
	}
}
