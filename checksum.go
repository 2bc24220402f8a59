package netcode

import "github.com/cespare/xxhash/v2"

// ChecksumBytes hashes a state snapshot for desync detection. Peers compare
// these values at confirmed frames, so the function must be identical across
// platforms; xxhash64 over the raw bytes satisfies that.
func ChecksumBytes(state []byte) uint64 {
	return xxhash.Sum64(state)
}

// fletcher16 is the cheap rolling checksum used for wire-visible payload
// sanity checks. Kept separate from ChecksumBytes so the desync detector's
// hash quality never depends on it.
func fletcher16(data []byte) uint16 {
	var sum1, sum2 uint16
	for _, b := range data {
		sum1 = (sum1 + uint16(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return sum2<<8 | sum1
}
