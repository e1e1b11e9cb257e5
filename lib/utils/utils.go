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

// Package utils holds small helpers shared by websql packages
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// CryptoRandomHex returns hex encoded random string generated with
// crypto-strong pseudo random generator of the given bytes
func CryptoRandomHex(len int) (string, error) {
	randomBytes := make([]byte, len)
	if _, err := rand.Reader.Read(randomBytes); err != nil {
		return "", trace.Wrap(err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// HostPort joins a host and a numeric port into the form the dialer
// expects, taking care of IPv6 literals.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ParseHostPort splits an "addr:port" string, returning an error when
// either part is missing or the port is not numeric.
func ParseHostPort(addr string) (host string, port int, err error) {
	host, portS, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, trace.BadParameter("invalid address %q: %v", addr, err)
	}
	port, err = strconv.Atoi(portS)
	if err != nil {
		return "", 0, trace.BadParameter("invalid port in address %q", addr)
	}
	return host, port, nil
}

// InitLogger configures the process-wide logger. Severity is one of
// the logrus level names, e.g. "info" or "debug".
func InitLogger(severity string) error {
	level, err := log.ParseLevel(severity)
	if err != nil {
		return trace.BadParameter("unsupported log severity %q", severity)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	return nil
}

// InitLoggerForTests quiets the logger down so test output stays
// readable.
func InitLoggerForTests() {
	log.SetLevel(log.ErrorLevel)
	log.SetOutput(os.Stderr)
}

// ObfuscateString shortens a secret for log output: "abcdef..." never
// the full value.
func ObfuscateString(s string) string {
	const keep = 4
	if len(s) <= keep {
		return "****"
	}
	return fmt.Sprintf("%v****", s[:keep])
}
