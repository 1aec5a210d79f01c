package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashToken_RoundTrip(t *testing.T) {
	encoded, err := HashToken("s3cret-token")
	require.NoError(t, err)

	parts := strings.Split(encoded, "$")
	require.Len(t, parts, 4)
	assert.Equal(t, "pbkdf2-sha256", parts[0])

	assert.NoError(t, VerifyToken(encoded, "s3cret-token"))
	assert.Error(t, VerifyToken(encoded, "wrong-token"))
	assert.Error(t, VerifyToken(encoded, ""))
}

func TestHashToken_EmptyToken(t *testing.T) {
	_, err := HashToken("")
	assert.Error(t, err)
}

func TestHashToken_SaltedPerCall(t *testing.T) {
	a, err := HashToken("same-token")
	require.NoError(t, err)
	b, err := HashToken("same-token")
	require.NoError(t, err)

	// Fresh salt every call: equal tokens never produce equal encodings,
	// yet both verify.
	assert.NotEqual(t, a, b)
	assert.NoError(t, VerifyToken(b, "same-token"))
}

func TestVerifyToken_MalformedEncodings(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"too few parts":     "pbkdf2-sha256$480000$c2FsdA==",
		"unknown scheme":    "argon2id$480000$c2FsdA==$aGFzaA==",
		"bad iterations":    "pbkdf2-sha256$many$c2FsdA==$aGFzaA==",
		"zero iterations":   "pbkdf2-sha256$0$c2FsdA==$aGFzaA==",
		"bad salt base64":   "pbkdf2-sha256$1000$!!!$aGFzaA==",
		"bad hash base64":   "pbkdf2-sha256$1000$c2FsdA==$!!!",
	}
	for name, encoded := range cases {
		assert.Error(t, VerifyToken(encoded, "token"), name)
	}
}
