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

// Package web implements the websql HTTP API: login against the
// database, bearer token sessions and the authenticated endpoints
// that run on impersonated pooled connections.
package web

import (
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/websql/websql"
	"github.com/websql/websql/lib/config"
	"github.com/websql/websql/lib/defaults"
	"github.com/websql/websql/lib/httplib"
	"github.com/websql/websql/lib/mysql"
	"github.com/websql/websql/lib/secret"
	"github.com/websql/websql/lib/session"
)

// Config represents web handler configuration parameters
type Config struct {
	// Store persists sessions in the database.
	Store *session.Store
	// Cipher encrypts session passwords at rest.
	Cipher *secret.Cipher
	// Pool is the shared system connection pool.
	Pool *mysql.Pool
	// Broker impersonates end users on pooled connections.
	Broker *mysql.Broker
	// Settings is the runtime configuration.
	Settings *config.Settings
	// SessionTTL is the lifetime of issued sessions.
	SessionTTL time.Duration
	// TLS is the client TLS config for direct login connections,
	// matching what the pool uses.
	TLS *tls.Config
	// DialFn dials the direct login test connection, defaults to
	// mysql.Dial.
	DialFn mysql.DialFunc
	// Clock is used to compute session expiry in responses.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *Config) CheckAndSetDefaults() error {
	if cfg.Store == nil {
		return trace.BadParameter("missing session store")
	}
	if cfg.Cipher == nil {
		return trace.BadParameter("missing cipher")
	}
	if cfg.Pool == nil {
		return trace.BadParameter("missing connection pool")
	}
	if cfg.Broker == nil {
		return trace.BadParameter("missing broker")
	}
	if cfg.Settings == nil {
		return trace.BadParameter("missing settings")
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = defaults.SessionTTL
	}
	if cfg.DialFn == nil {
		cfg.DialFn = mysql.Dial
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Handler is the HTTP API handler
type Handler struct {
	httprouter.Router
	cfg Config
	log *log.Entry
}

// NewHandler returns a new instance of the web API handler
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		cfg: cfg,
		log: log.WithFields(log.Fields{
			websql.Component: websql.ComponentWeb,
		}),
	}

	// ping endpoint is used to check if the server is up
	h.GET("/webapi/ping", httplib.MakeHandler(h.ping))

	// web sessions
	h.POST("/webapi/sessions", httplib.MakeHandler(h.createSession))
	h.GET("/webapi/sessions/validate", h.WithAuth(h.validateSession))
	h.DELETE("/webapi/sessions", httplib.MakeHandler(h.deleteSession))

	// runtime configuration
	h.PUT("/webapi/config/database", h.WithAuth(h.updateDatabaseConfig))

	return h, nil
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	return map[string]interface{}{
		"server_version": websql.Version,
		"api_version":    websql.WebAPIVersion,
	}, nil
}

type createSessionReq struct {
	// Host and Port point at the database server to log into. They
	// default to the configured server.
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"username"`
	Pass string `json:"password"`
}

// CreateSessionResponse carries the bearer token issued at login plus
// the resolved identity, so the client never needs the password again.
type CreateSessionResponse struct {
	// Type is token type (bearer)
	Type string `json:"type"`
	// Token value
	Token string `json:"token"`
	// ExpiresIn sets seconds before this token is not valid
	ExpiresIn int `json:"expires_in"`
	// User is the account name that logged in.
	User string `json:"username"`
	// Host is the client host pattern the server resolved the
	// account to, e.g. "%".
	Host string `json:"host"`
	// Privileges are the account's global privileges, sorted.
	Privileges []string `json:"privileges"`
}

// createSession authenticates a user against the database and issues
// a web session.
//
// POST /webapi/sessions
//
// {"host": "db1", "port": 3306, "username": "alice", "password": "pw"}
//
// Response:
//
// {"type": "bearer", "token": "...", "expires_in": 43200, "username": "alice", "host": "%", "privileges": ["SELECT"]}
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	var req *createSessionReq
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req == nil {
		return nil, trace.BadParameter("missing request body")
	}
	if req.User == "" {
		return nil, trace.BadParameter("missing username")
	}
	database := h.cfg.Settings.Database()
	if req.Host == "" {
		req.Host = database.Host
	}
	if req.Port == 0 {
		req.Port = database.Port
	}

	// The login test connection authenticates directly as the end
	// user: the server itself is the authority on the credentials.
	conn, err := h.cfg.DialFn(r.Context(), mysql.ClientConfig{
		Host:     req.Host,
		Port:     req.Port,
		User:     req.User,
		Password: req.Pass,
		TLS:      h.cfg.TLS,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer conn.Close()

	host, err := currentUserHost(conn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	privileges, err := mysql.FetchPrivileges(conn)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	token, err := h.cfg.Store.Create(r.Context(), req.User, host,
		h.cfg.Cipher.Encrypt(req.Pass), h.cfg.SessionTTL)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	h.log.Infof("Issued session for %v@%v.", req.User, host)

	return &CreateSessionResponse{
		Type:       roundtrip.AuthBearer,
		Token:      token,
		ExpiresIn:  int(h.cfg.SessionTTL / time.Second),
		User:       req.User,
		Host:       host,
		Privileges: privileges.Sorted(),
	}, nil
}

// validateSessionResponse mirrors the login response identity fields.
type validateSessionResponse struct {
	User       string   `json:"username"`
	Host       string   `json:"host"`
	Privileges []string `json:"privileges"`
}

// validateSession reports the identity and privileges behind a bearer
// token, read over a pooled connection impersonated as the session
// user.
//
// GET /webapi/sessions/validate
func (h *Handler) validateSession(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (interface{}, error) {
	conn, err := h.cfg.Broker.AcquireAs(r.Context(), sctx.Credentials)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer h.cfg.Broker.Release(conn)

	privileges, err := mysql.FetchPrivileges(conn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &validateSessionResponse{
		User:       sctx.Credentials.User,
		Host:       sctx.Credentials.HostPattern,
		Privileges: privileges.Sorted(),
	}, nil
}

// deleteSession logs the user out. The row is removed by token
// without a validity check so that logging out an already expired or
// already deleted session still succeeds.
//
// DELETE /webapi/sessions
func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
	token, err := parseBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.cfg.Store.Delete(r.Context(), token); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"message": "ok"}, nil
}

type updateDatabaseReq struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	MaxConnections int    `json:"max_connections"`
}

// updateDatabaseConfig updates the database server settings and
// reconfigures the pool to match. System credentials are never part
// of the request, they stay in the config file.
//
// PUT /webapi/config/database
//
// {"host": "db2", "port": 3306, "max_connections": 8}
func (h *Handler) updateDatabaseConfig(w http.ResponseWriter, r *http.Request, p httprouter.Params, sctx *SessionContext) (interface{}, error) {
	var req *updateDatabaseReq
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req == nil {
		return nil, trace.BadParameter("missing request body")
	}
	if req.Host == "" {
		return nil, trace.BadParameter("missing host")
	}
	database := h.cfg.Settings.Database()
	if req.Port != 0 {
		database.Port = req.Port
	}
	if req.MaxConnections != 0 {
		database.MaxConnections = req.MaxConnections
	}
	database.Host = req.Host

	client := h.cfg.Pool.ClientConfig()
	client.Host = database.Host
	client.Port = database.Port
	if err := h.cfg.Pool.Reconfigure(mysql.PoolConfig{
		Client:         client,
		MaxConnections: database.MaxConnections,
		DialFn:         h.cfg.DialFn,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	h.cfg.Settings.UpdateDatabase(database)
	h.log.Infof("Database configuration updated: %v.", database.Host)

	return map[string]interface{}{"message": "ok"}, nil
}

// currentUserHost resolves the client host pattern the server matched
// the logged in account against, e.g. "alice@10.0.%" yields "10.0.%".
func currentUserHost(conn mysql.Conn) (string, error) {
	res, err := conn.Execute("SELECT CURRENT_USER()")
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return "", trace.BadParameter("empty CURRENT_USER() result")
	}
	account := res.Rows[0][0]
	idx := strings.LastIndex(account, "@")
	if idx < 0 {
		return "", trace.BadParameter("unexpected CURRENT_USER() form %q", account)
	}
	return account[idx+1:], nil
}
