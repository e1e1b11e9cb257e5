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

package web

import (
	"net/http"
	"strings"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/websql/websql/lib/httplib"
	"github.com/websql/websql/lib/mysql"
)

// SessionContext is the authenticated identity attached to a request
// after its bearer token checked out. The decrypted password stays in
// request scope only.
type SessionContext struct {
	// Token is the bearer token the request presented.
	Token string
	// Credentials is the database identity the session belongs to.
	Credentials mysql.Credentials
}

// ContextHandler is an API handler that requires an authenticated
// session.
type ContextHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params, ctx *SessionContext) (interface{}, error)

// WithAuth ensures that the request carries a valid session bearer
// token before fn runs. Authentication failures are reported as access
// denied, which replies 401 so the client drops back to login.
func (h *Handler) WithAuth(fn ContextHandler) httprouter.Handle {
	return httplib.MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error) {
		ctx, err := h.AuthenticateRequest(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return fn(w, r, p, ctx)
	})
}

// AuthenticateRequest authenticates the request using its
// "Authorization: Bearer <token>" header. The token is looked up in
// the session store over exactly one pooled system connection, and the
// stored password is decrypted into the returned context. Unknown and
// expired tokens both come back as access denied without revealing
// which.
func (h *Handler) AuthenticateRequest(r *http.Request) (*SessionContext, error) {
	token, err := parseBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	session, err := h.cfg.Store.Get(r.Context(), token)
	if err != nil {
		if trace.IsNotFound(err) {
			h.log.Debugf("Rejected unknown or expired session token.")
			return nil, trace.AccessDenied("need auth")
		}
		return nil, trace.Wrap(err)
	}
	password, err := h.cfg.Cipher.Decrypt(session.EncryptedPassword)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &SessionContext{
		Token: token,
		Credentials: mysql.Credentials{
			User:        session.User,
			Password:    password,
			HostPattern: session.Host,
		},
	}, nil
}

// parseBearerToken extracts the token from an Authorization header
// value. A missing or malformed header denies access before any
// database work happens.
func parseBearerToken(header string) (string, error) {
	if header == "" {
		return "", trace.AccessDenied("need auth")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", trace.AccessDenied("need auth")
	}
	return parts[1], nil
}
