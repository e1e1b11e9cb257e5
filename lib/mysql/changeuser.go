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
	"bytes"
	"encoding/binary"

	mysqllib "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"
)

// utf8mb4_general_ci, matching the charset requested on connect.
const changeUserCollationID = 45

// ChangeUser swaps the authenticated identity of the connection with
// COM_CHANGE_USER, without tearing the TCP session down.
//
// https://dev.mysql.com/doc/dev/mysql-server/latest/page_protocol_com_change_user.html
//
// The request carries an empty auth response on purpose: the server
// then answers with an auth switch request holding a fresh nonce, so
// the scramble can be computed without access to the handshake salt
// the driver keeps private.
func (c *clientConn) ChangeUser(user, password, schema string) error {
	c.conn.ResetSequence()

	data := make([]byte, 4, 64)
	data = append(data, mysqllib.COM_CHANGE_USER)
	data = append(data, user...)
	data = append(data, 0x00)
	// Zero-length auth response, length encoded.
	data = append(data, 0x00)
	data = append(data, schema...)
	data = append(data, 0x00)
	data = append(data, byte(changeUserCollationID), byte(changeUserCollationID>>8))
	data = append(data, mysqllib.AUTH_NATIVE_PASSWORD...)
	data = append(data, 0x00)
	if err := c.conn.WritePacket(data); err != nil {
		return trace.ConvertSystemError(err)
	}
	return c.readAuthResult(password)
}

// readAuthResult consumes server packets until re-authentication
// either succeeds or fails.
func (c *clientConn) readAuthResult(password string) error {
	data, err := c.conn.ReadPacket()
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	if len(data) == 0 {
		return trace.BadParameter("short auth packet from server")
	}
	switch data[0] {
	case mysqllib.OK_HEADER:
		return nil
	case mysqllib.ERR_HEADER:
		return trace.Wrap(parseErrPacket(data))
	case mysqllib.EOF_HEADER:
		if len(data) == 1 {
			// Old-style auth switch, not sent by any server
			// speaking a post-4.1 protocol.
			return trace.BadParameter("server requested legacy authentication")
		}
		return c.answerAuthSwitch(data[1:], password)
	case mysqllib.MORE_DATE_HEADER:
		return c.answerAuthMoreData(data[1:], password)
	}
	return trace.BadParameter("unexpected packet header 0x%02x during re-authentication", data[0])
}

// answerAuthSwitch responds to an auth switch request. Payload layout:
// plugin name, NUL, plugin nonce (20 bytes for both password plugins,
// with a trailing NUL).
func (c *clientConn) answerAuthSwitch(data []byte, password string) error {
	idx := bytes.IndexByte(data, 0x00)
	if idx < 0 {
		return trace.BadParameter("malformed auth switch request")
	}
	plugin := string(data[:idx])
	nonce := data[idx+1:]
	if n := len(nonce); n > 0 && nonce[n-1] == 0x00 {
		nonce = nonce[:n-1]
	}

	var auth []byte
	switch plugin {
	case mysqllib.AUTH_NATIVE_PASSWORD:
		auth = mysqllib.CalcPassword(nonce, []byte(password))
	case mysqllib.AUTH_CACHING_SHA2_PASSWORD:
		auth = mysqllib.CalcCachingSha2Password(nonce, password)
	default:
		return trace.BadParameter("server requested unsupported auth plugin %q", plugin)
	}
	resp := make([]byte, 4, 4+len(auth))
	resp = append(resp, auth...)
	if err := c.conn.WritePacket(resp); err != nil {
		return trace.ConvertSystemError(err)
	}
	return c.readAuthResult(password)
}

// answerAuthMoreData handles the caching_sha2_password continuation
// markers.
func (c *clientConn) answerAuthMoreData(data []byte, password string) error {
	if len(data) != 1 {
		return trace.BadParameter("malformed auth continuation packet")
	}
	switch data[0] {
	case mysqllib.CACHE_SHA2_FAST_AUTH:
		// Scramble accepted from cache, an OK packet follows.
		return c.readAuthResult(password)
	case mysqllib.CACHE_SHA2_FULL_AUTH:
		// Full authentication sends the password in the clear,
		// acceptable only inside TLS.
		if !c.tls {
			return trace.AccessDenied("caching_sha2_password full authentication requires a TLS connection")
		}
		resp := make([]byte, 4, 4+len(password)+1)
		resp = append(resp, password...)
		resp = append(resp, 0x00)
		if err := c.conn.WritePacket(resp); err != nil {
			return trace.ConvertSystemError(err)
		}
		return c.readAuthResult(password)
	}
	return trace.BadParameter("unexpected auth continuation marker 0x%02x", data[0])
}

// parseErrPacket decodes a server ERR packet into a driver error so
// callers can inspect the server error code.
func parseErrPacket(data []byte) *mysqllib.MyError {
	e := new(mysqllib.MyError)
	pos := 1
	if len(data) < pos+2 {
		e.Message = "truncated error packet"
		return e
	}
	e.Code = binary.LittleEndian.Uint16(data[pos:])
	pos += 2
	if pos < len(data) && data[pos] == '#' {
		// Protocol 4.1 adds a '#' marker and a 5 byte SQL state.
		if len(data) >= pos+6 {
			e.State = string(data[pos+1 : pos+6])
		}
		pos += 6
	}
	if pos < len(data) {
		e.Message = string(data[pos:])
	}
	return e
}
