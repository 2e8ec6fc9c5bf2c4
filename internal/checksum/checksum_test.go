package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum_SingleByte(t *testing.T) {
	require.Equal(t, uint64(0xFF), Sum([]byte{0x00}))
	require.Equal(t, uint64(0x0F), Sum([]byte{0xF0}))
}

func TestSum_Empty(t *testing.T) {
	require.Zero(t, Sum(nil))
}

func TestSum_KnownValue(t *testing.T) {
	// first=1 mid=2 last=2 mixer=0xFE
	// i=0: ((1^0xFE)+2)*2+0 = 514
	// i=1: ((2^0xFE)+2)*2+1 = 509
	require.Equal(t, uint64(514^509), Sum([]byte{1, 2}))
}

func TestSum_DetectsChange(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i * 7)
	}
	before := Sum(data)
	require.Equal(t, before, Sum(data), "deterministic")

	data[100]++
	require.NotEqual(t, before, Sum(data))
}
