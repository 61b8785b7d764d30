package logger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Initialize hash salt for all tests in this package.
	InitHashSaltForTesting("test-salt-for-unit-tests-minimum-32-chars")
	os.Exit(m.Run())
}

func TestHashUserID(t *testing.T) {
	t.Run("produces consistent hash for same user ID", func(t *testing.T) {
		hash1 := HashUserID(12345)
		hash2 := HashUserID(12345)
		require.Equal(t, hash1, hash2)
	})

	t.Run("produces different hashes for different user IDs", func(t *testing.T) {
		hash1 := HashUserID(12345)
		hash2 := HashUserID(67890)
		require.NotEqual(t, hash1, hash2)
	})

	t.Run("produces 8 character hash", func(t *testing.T) {
		hash := HashUserID(12345)
		require.Len(t, hash, 8)
	})

	t.Run("changes hash when salt changes", func(t *testing.T) {
		originalSalt := hashSalt
		defer func() { hashSalt = originalSalt }()

		hash1 := HashUserID(12345)

		hashSalt = "different-salt"
		hash2 := HashUserID(12345)

		require.NotEqual(t, hash1, hash2)
	})
}

func TestInitHashSalt(t *testing.T) {
	originalSalt := hashSalt
	defer func() { hashSalt = originalSalt }()

	t.Run("reads salt from env", func(t *testing.T) {
		t.Setenv("LOG_HASH_SALT", "from-env")
		InitHashSalt()
		require.Equal(t, "from-env", hashSalt)
	})

	t.Run("falls back to default", func(t *testing.T) {
		t.Setenv("LOG_HASH_SALT", "")
		InitHashSalt()
		require.Equal(t, defaultHashSalt, hashSalt)
	})
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "<empty>"},
		{"short", "Netflix", "<7 chars>"},
		{"long", "Spotify Premium Family", "Spo...<22 chars>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeText(tt.in))
		})
	}
}

func TestSanitizeNote(t *testing.T) {
	require.Equal(t, "<empty>", SanitizeNote("   "))
	require.Equal(t, "<redacted: 3 words, 17 chars>", SanitizeNote("family plan share"))
}
