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

// Package config handles the websql configuration file and the
// process-wide runtime settings derived from it.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"

	"github.com/websql/websql/lib/defaults"
	"github.com/websql/websql/lib/utils"
)

// FileConfig represents the configuration stored in a config file
// in YAML format (usually /etc/websql.yaml)
type FileConfig struct {
	WebSQL   WebSQL   `yaml:"websql"`
	Database Database `yaml:"database"`
}

// WebSQL configures the web service itself.
type WebSQL struct {
	// ListenAddr is the "host:port" the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr,omitempty"`
	// SecretKey encrypts session passwords at rest. It must be set
	// to a long random string before the server will start.
	SecretKey string `yaml:"secret_key"`
	// SessionTTL is how long issued sessions stay valid, in
	// time.ParseDuration format, e.g. "12h".
	SessionTTL string `yaml:"session_ttl,omitempty"`
	// LogSeverity is one of logrus severity names, e.g. "info".
	LogSeverity string `yaml:"log_severity,omitempty"`
}

// Database configures the MySQL server websql administers and the
// system account used for pooled connections. These credentials never
// come from requests.
type Database struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port,omitempty"`
	User           string `yaml:"user"`
	Password       string `yaml:"password,omitempty"`
	MaxConnections int    `yaml:"max_connections,omitempty"`
	DefaultSchema  string `yaml:"default_schema,omitempty"`
	// CACertFile enables TLS to the server when set.
	CACertFile string `yaml:"ca_cert_file,omitempty"`
	// ServerName overrides the certificate name verified over TLS.
	ServerName string `yaml:"tls_server_name,omitempty"`
}

// ReadConfigFile reads and parses the YAML config at path.
func ReadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes and applies defaults.
func ParseConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	if err := fc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &fc, nil
}

// CheckAndSetDefaults validates the config and fills in defaults.
// Validation failures here are fatal at startup.
func (fc *FileConfig) CheckAndSetDefaults() error {
	if fc.WebSQL.ListenAddr == "" {
		fc.WebSQL.ListenAddr = defaults.HTTPListenAddr
	}
	if _, _, err := utils.ParseHostPort(fc.WebSQL.ListenAddr); err != nil {
		return trace.BadParameter("invalid websql.listen_addr %q: %v", fc.WebSQL.ListenAddr, err)
	}
	if fc.WebSQL.SessionTTL == "" {
		fc.WebSQL.SessionTTL = defaults.SessionTTL.String()
	}
	if fc.WebSQL.LogSeverity == "" {
		fc.WebSQL.LogSeverity = defaults.LogSeverity
	}
	if _, err := time.ParseDuration(fc.WebSQL.SessionTTL); err != nil {
		return trace.BadParameter("invalid websql.session_ttl %q: %v", fc.WebSQL.SessionTTL, err)
	}
	if fc.Database.Host == "" {
		return trace.BadParameter("missing database.host")
	}
	if fc.Database.Port == 0 {
		fc.Database.Port = defaults.MySQLPort
	}
	if fc.Database.User == "" {
		return trace.BadParameter("missing database.user")
	}
	if fc.Database.MaxConnections == 0 {
		fc.Database.MaxConnections = defaults.PoolMaxConnections
	}
	if fc.Database.MaxConnections < 0 {
		return trace.BadParameter("database.max_connections must be positive")
	}
	return nil
}

// ParsedSessionTTL returns the session TTL as a duration. Call after
// CheckAndSetDefaults.
func (fc *FileConfig) ParsedSessionTTL() time.Duration {
	ttl, err := time.ParseDuration(fc.WebSQL.SessionTTL)
	if err != nil {
		return defaults.SessionTTL
	}
	return ttl
}

// ClientTLSConfig builds the TLS client config for the database
// connection, nil when TLS is not configured.
func (d *Database) ClientTLSConfig() (*tls.Config, error) {
	if d.CACertFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(d.CACertFile)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, trace.BadParameter("no certificates found in %v", d.CACertFile)
	}
	serverName := d.ServerName
	if serverName == "" {
		serverName = d.Host
	}
	return &tls.Config{RootCAs: pool, ServerName: serverName}, nil
}
