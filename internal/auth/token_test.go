package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(token), 40)
		assert.False(t, seen[token], "tokens must not repeat")
		seen[token] = true
	}
}

func TestHashToken(t *testing.T) {
	h1 := HashToken("token-a", "key-1")
	h2 := HashToken("token-a", "key-1")
	assert.Equal(t, h1, h2)

	assert.NotEqual(t, h1, HashToken("token-b", "key-1"))
	assert.NotEqual(t, h1, HashToken("token-a", "key-2"))

	// hex-encoded SHA-256 output
	assert.Len(t, h1, 64)
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("a strong password")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("a strong password", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestValidatePasswordComplexity(t *testing.T) {
	assert.Error(t, ValidatePasswordComplexity("short"))
	assert.NoError(t, ValidatePasswordComplexity("exactly8"))
}
