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

package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCryptoRandomHex(t *testing.T) {
	token, err := CryptoRandomHex(32)
	require.NoError(t, err)
	require.Len(t, token, 64)

	other, err := CryptoRandomHex(32)
	require.NoError(t, err)
	require.NotEqual(t, token, other)
}

func TestHostPort(t *testing.T) {
	require.Equal(t, "db.example.com:3306", HostPort("db.example.com", 3306))
	require.Equal(t, "[::1]:3306", HostPort("::1", 3306))

	host, port, err := ParseHostPort("db.example.com:3306")
	require.NoError(t, err)
	require.Equal(t, "db.example.com", host)
	require.Equal(t, 3306, port)

	_, _, err = ParseHostPort("db.example.com")
	require.Error(t, err)

	_, _, err = ParseHostPort("db.example.com:none")
	require.Error(t, err)
}

func TestObfuscateString(t *testing.T) {
	require.Equal(t, "****", ObfuscateString("pw"))
	require.Equal(t, "long****", ObfuscateString("long-secret-value"))
}
