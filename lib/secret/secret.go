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

// Package secret implements symmetric encryption of end user database
// passwords for at-rest session storage. The browser client never sees
// the password again after login, only the opaque session token.
package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/pbkdf2"

	"github.com/websql/websql/lib/defaults"
)

// Context salts for deriving the cipher key and IV from the server
// secret. Changing either invalidates every stored session.
const (
	keyContext = "websql/session-key"
	ivContext  = "websql/session-iv"

	kdfIterations = 4096
)

// Cipher encrypts and decrypts session passwords with AES-256-CBC.
//
// Both the key and the IV are derived deterministically from the
// server-wide secret, so encrypting the same password twice yields the
// same ciphertext. That leaks password equality across sessions to
// anyone who can read the session table. The behavior is kept on
// purpose: ciphertexts stay stable across restarts and older session
// rows remain decryptable. See DESIGN.md before changing it.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// New returns a cipher keyed by the server secret. It fails when the
// secret is empty or still equals the placeholder shipped in the
// sample config file; the daemon must not start in that state.
func New(secretKey string) (*Cipher, error) {
	if secretKey == "" {
		return nil, trace.BadParameter("secret_key is not set in the config file")
	}
	if secretKey == defaults.PlaceholderSecretKey {
		return nil, trace.BadParameter("secret_key still has the placeholder value, generate a random secret")
	}
	key := pbkdf2.Key([]byte(secretKey), []byte(keyContext), kdfIterations, 32, sha256.New)
	iv := pbkdf2.Key([]byte(secretKey), []byte(ivContext), kdfIterations, aes.BlockSize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Cipher{block: block, iv: iv}, nil
}

// Encrypt returns the base64 encoded ciphertext of plaintext.
func (c *Cipher) Encrypt(plaintext string) string {
	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

// Decrypt reverses Encrypt. It returns an error when the ciphertext
// is malformed, e.g. when the server secret changed since the session
// was created.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", trace.BadParameter("malformed ciphertext: %v", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", trace.BadParameter("malformed ciphertext: not a whole number of blocks")
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, raw)
	unpadded, err := unpad(out)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(unpadded), nil
}

// pad appends PKCS#7 padding up to the AES block size.
func pad(in []byte) []byte {
	n := aes.BlockSize - len(in)%aes.BlockSize
	return append(in, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return nil, trace.BadParameter("malformed ciphertext: empty block")
	}
	n := int(in[len(in)-1])
	if n == 0 || n > aes.BlockSize || n > len(in) {
		return nil, trace.BadParameter("malformed ciphertext: bad padding")
	}
	for _, b := range in[len(in)-n:] {
		if int(b) != n {
			return nil, trace.BadParameter("malformed ciphertext: bad padding")
		}
	}
	return in[:len(in)-n], nil
}
