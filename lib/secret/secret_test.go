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

package secret

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/websql/websql/lib/defaults"
)

func TestRoundTrip(t *testing.T) {
	c, err := New("test-secret-key")
	require.NoError(t, err)

	tests := []struct {
		desc      string
		plaintext string
	}{
		{desc: "simple password", plaintext: "hunter2"},
		{desc: "empty password", plaintext: ""},
		{desc: "non-ascii password", plaintext: "pässwörd-密码-🔑"},
		{desc: "block sized input", plaintext: "0123456789abcdef"},
		{desc: "long input", plaintext: string(make([]byte, 1024))},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			out, err := c.Decrypt(c.Encrypt(tt.plaintext))
			require.NoError(t, err)
			require.Equal(t, tt.plaintext, out)
		})
	}
}

// Identical plaintexts must produce identical ciphertexts: existing
// session rows have to stay decryptable across restarts, so the IV is
// derived from the secret rather than randomized per call.
func TestDeterministicCiphertext(t *testing.T) {
	c, err := New("test-secret-key")
	require.NoError(t, err)

	require.Equal(t, c.Encrypt("same password"), c.Encrypt("same password"))
	require.NotEqual(t, c.Encrypt("one password"), c.Encrypt("another password"))
}

func TestDistinctSecretsDisagree(t *testing.T) {
	a, err := New("secret-a")
	require.NoError(t, err)
	b, err := New("secret-b")
	require.NoError(t, err)

	ciphertext := a.Encrypt("hunter2")
	out, err := b.Decrypt(ciphertext)
	if err == nil {
		// CBC padding may decode by accident, but never to the
		// original plaintext.
		require.NotEqual(t, "hunter2", out)
	}
}

func TestRejectsBadSecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))

	_, err = New(defaults.PlaceholderSecretKey)
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestRejectsMalformedCiphertext(t *testing.T) {
	c, err := New("test-secret-key")
	require.NoError(t, err)

	for _, ciphertext := range []string{"not base64!!!", "c2hvcnQ=", ""} {
		_, err := c.Decrypt(ciphertext)
		require.Error(t, err, "ciphertext %q", ciphertext)
	}
}
