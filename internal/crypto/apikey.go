// Package crypto provides API-token hashing and verification for the HTTP
// server's authentication middleware.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// hashLen is the derived hash length in bytes.
	hashLen = 32
	// scheme identifies the encoded hash format.
	scheme = "pbkdf2-sha256"
)

// HashToken derives a salted PBKDF2-HMAC-SHA256 hash of an API token and
// returns it in the self-describing form
// "pbkdf2-sha256$<iterations>$<salt>$<hash>" with base64 standard encoding.
// The result is what operators put in server.api_key_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("crypto: token must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}

	derived := pbkdf2.Key([]byte(token), salt, pbkdf2Iterations, hashLen, sha256.New)

	return strings.Join([]string{
		scheme,
		strconv.Itoa(pbkdf2Iterations),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(derived),
	}, "$"), nil
}

// VerifyToken re-derives the hash of token under the parameters embedded in
// encoded and compares in constant time. It returns nil on match.
func VerifyToken(encoded, token string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return errors.New("crypto: malformed token hash")
	}
	if parts[0] != scheme {
		return fmt.Errorf("crypto: unsupported hash scheme %q", parts[0])
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 {
		return errors.New("crypto: malformed iteration count")
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("crypto: decoding salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("crypto: decoding hash: %w", err)
	}

	got := pbkdf2.Key([]byte(token), salt, iterations, len(want), sha256.New)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return errors.New("crypto: token mismatch")
	}
	return nil
}
