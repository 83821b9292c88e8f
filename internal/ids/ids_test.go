package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewReturnsUniqueValidIDs(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		id := New()
		require.True(t, Valid(id), "id %q should parse", id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %q", id)
		seen[id] = struct{}{}
	}
	require.False(t, Valid("not-an-id"))
}
