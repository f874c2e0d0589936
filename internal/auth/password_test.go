package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret", hash)

	require.True(t, ComparePassword("s3cret", hash))
	require.False(t, ComparePassword("wrong", hash))
	require.False(t, ComparePassword("s3cret", "not-a-hash"))
}
