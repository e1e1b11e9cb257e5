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

// Package websql holds constants shared by all websql components.
package websql

const (
	// Version is the semver version of the websql daemon.
	Version = "0.4.0"

	// WebAPIVersion is the version prefix of the HTTP API.
	WebAPIVersion = "v1"
)

const (
	// Component indicates a component of websql, used for logging
	Component = "component"

	// ComponentWeb is the web API handler serving browser requests
	ComponentWeb = "web"

	// ComponentPool is the shared MySQL connection pool
	ComponentPool = "db:pool"

	// ComponentBroker is the connection impersonation broker
	ComponentBroker = "db:broker"

	// ComponentSession is the session store
	ComponentSession = "session"
)
