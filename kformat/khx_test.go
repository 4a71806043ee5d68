package kformat

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKhxRoundTrip(t *testing.T) {
	k := 5
	w := NewKhxWriter(k)
	w.Exclude(3)
	w.Exclude(1000)
	require.True(t, w.IsExcluded(3))
	require.False(t, w.IsExcluded(4))

	path := filepath.Join(t.TempDir(), "shared.khx")
	require.NoError(t, w.WriteFile(path, KhxHeaderFields{K: k, Threshold: 1000}))

	r, err := OpenKhx(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, k, r.K())
	require.Equal(t, uint64(1000), r.Threshold())
	require.Equal(t, TableSize(k), r.NumKmers())
	require.True(t, r.IsExcluded(3))
	require.True(t, r.IsExcluded(1000))
	require.False(t, r.IsExcluded(0))
	require.False(t, r.IsExcluded(4))
}
