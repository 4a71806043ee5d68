package kmer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestUvarintRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 129, 16383, 16384, 1 << 20, 1<<32 - 1}
	for _, x := range cases {
		buf := make([]byte, MaxVarintLen)
		n := PutUvarint(buf, x)
		require.GreaterOrEqual(t, n, 1)
		require.LessOrEqual(t, n, MaxVarintLen)
		got, m := Uvarint(buf[:n])
		require.Equal(t, n, m)
		require.Equal(t, x, got)
	}
}

func TestUvarintTruncatedReturnsZero(t *testing.T) {
	buf := make([]byte, MaxVarintLen)
	n := PutUvarint(buf, 1<<30)
	got, m := Uvarint(buf[:n-1])
	require.Equal(t, 0, m)
	require.Equal(t, uint32(0), got)
}

func TestUvarintRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Uint32().Draw(t, "x")
		buf := make([]byte, MaxVarintLen)
		n := PutUvarint(buf, x)
		require.LessOrEqual(t, n, MaxVarintLen)
		got, m := Uvarint(buf[:n])
		require.Equal(t, n, m)
		require.Equal(t, x, got)
	})
}
