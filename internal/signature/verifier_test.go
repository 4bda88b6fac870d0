package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewVerifier_RequiresSecret ensures an empty secret is a startup error.
func TestNewVerifier_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewVerifier("")
	require.ErrorIs(t, err, ErrSecretRequired)
}

// TestVerify_RoundTrip checks a freshly signed body verifies in either hex case.
func TestVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("token")
	require.NoError(t, err)

	body := []byte(`{"projectName":"p"}`)
	sig := v.Sign(body)

	require.Len(t, sig, 64)
	require.Equal(t, strings.ToUpper(sig), sig)
	require.True(t, v.Verify(body, sig))
	require.True(t, v.Verify(body, strings.ToLower(sig)))
}

// TestVerify_KnownVector pins the digest format against a precomputed value.
func TestVerify_KnownVector(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("key")
	require.NoError(t, err)

	require.Equal(t,
		"F7BC83F430538424B13298E6AA6FB143EF4D59A14946175997479DBC2D1A3CD8",
		v.Sign([]byte("The quick brown fox jumps over the lazy dog")))
}

// TestVerify_Mutations rejects any change to body, signature value or secret.
func TestVerify_Mutations(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("token")
	require.NoError(t, err)

	other, err := NewVerifier("token2")
	require.NoError(t, err)

	body := []byte(`{"projectName":"p"}`)
	sig := v.Sign(body)

	flippedBody := append([]byte(nil), body...)
	flippedBody[3] ^= 0x01
	require.False(t, v.Verify(flippedBody, sig))

	// Change one hex digit value; a case change is deliberately accepted.
	mutated := []byte(sig)
	if mutated[10] == '0' {
		mutated[10] = '1'
	} else {
		mutated[10] = '0'
	}

	require.False(t, v.Verify(body, string(mutated)))
	require.False(t, v.Verify(body, sig[:63]))
	require.False(t, v.Verify(body, ""))
	require.False(t, v.Verify(body, other.Sign(body)))
}
