// Package checksum computes the tracker's block checksum.
//
// The sum is a cheap byte mixer seeded from the first, middle and last bytes
// of the block. It detects accidental modification between two points in a
// program; it is not a cryptographic or CRC-grade hash.
package checksum

// Sum returns the checksum of data. An empty slice sums to 0.
func Sum(data []byte) uint64 {
	switch len(data) {
	case 0:
		return 0
	case 1:
		return uint64(data[0] ^ 0xFF)
	}

	first := data[0]
	last := data[len(data)-1]
	mid := data[len(data)/2]
	mixer := ^(first ^ last) ^ mid

	var sum uint64
	for i, b := range data {
		v := (uint64(b^mixer)+uint64(mid))*uint64(last) + uint64(uint8(i))
		sum ^= v
	}
	return sum
}
