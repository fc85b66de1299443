package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	data := []byte("hierarchical temporal memory")
	h := NewCRC32C()
	_, _ = h.Write(data[:10])
	_, _ = h.Write(data[10:])
	assert.Equal(t, CRC32C(data), h.Sum32())
	assert.Equal(t, CRC32C(data), CRC32C(data[:4], nil, data[4:]))
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]int{1, 5, 9})
	assert.Equal(t, a, Fingerprint([]int{1, 5, 9}))
	assert.NotEqual(t, a, Fingerprint([]int{1, 5, 10}))
	assert.NotEqual(t, Fingerprint(nil), Fingerprint([]int{0}))
}
