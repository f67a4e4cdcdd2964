package totp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rfcSecret is "12345678901234567890" in base32, the RFC 6238 test key.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestCodeAtRFCVectors(t *testing.T) {
	// The last six digits of the RFC 6238 Appendix B SHA-1 vectors.
	vectors := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
		{20000000000, "353130"},
	}

	for _, v := range vectors {
		code, err := codeAt(rfcSecret, time.Unix(v.unix, 0).UTC())
		require.NoError(t, err)
		assert.Equal(t, v.want, code, "at t=%d", v.unix)
	}
}

func TestCodeSecretNormalization(t *testing.T) {
	want, err := codeAt(rfcSecret, time.Unix(59, 0))
	require.NoError(t, err)

	// Lowercase, spaced and hyphenated spellings decode to the same key.
	variants := []string{
		"gezdgnbvgy3tqojqgezdgnbvgy3tqojq",
		"GEZD GNBV GY3T QOJQ GEZD GNBV GY3T QOJQ",
		"GEZD-GNBV-GY3T-QOJQ-GEZD-GNBV-GY3T-QOJQ",
	}
	for _, s := range variants {
		code, err := codeAt(s, time.Unix(59, 0))
		require.NoError(t, err)
		assert.Equal(t, want, code)
	}
}

func TestCodeRejectsBadSecrets(t *testing.T) {
	_, err := Code("")
	assert.ErrorContains(t, err, "secret is empty")

	_, err = Code("not!base32@@")
	assert.ErrorContains(t, err, "invalid base32 secret")
}

func TestRemaining(t *testing.T) {
	at := time.Unix(30, 0)
	assert.Equal(t, Period, Remaining(at))

	at = time.Unix(45, 0)
	assert.Equal(t, 15*time.Second, Remaining(at))
}
