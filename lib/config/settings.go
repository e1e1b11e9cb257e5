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

package config

import "sync"

// DatabaseSettings is the mutable slice of the database configuration:
// the part an admin can change at runtime. System credentials stay in
// the file and are not part of it.
type DatabaseSettings struct {
	Host           string
	Port           int
	MaxConnections int
	DefaultSchema  string
}

// Settings holds the process-wide runtime configuration. Reads happen
// on every request, writes only on the configuration-update operation.
type Settings struct {
	mu       sync.RWMutex
	database DatabaseSettings
}

// NewSettings returns settings seeded from the config file.
func NewSettings(database DatabaseSettings) *Settings {
	return &Settings{database: database}
}

// Database returns a copy of the current database settings.
func (s *Settings) Database() DatabaseSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.database
}

// UpdateDatabase replaces the database settings. The caller is
// responsible for reconfiguring the connection pool to match.
func (s *Settings) UpdateDatabase(database DatabaseSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.database = database
}
