package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_DeterministicPerInfo(t *testing.T) {
	a, err := DeriveKey([]byte("s3cret"), "validity")
	require.NoError(t, err)
	b, err := DeriveKey([]byte("s3cret"), "validity")
	require.NoError(t, err)
	c, err := DeriveKey([]byte("s3cret"), "other")
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = DeriveKey(nil, "validity")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestMAC_PartBoundariesMatter(t *testing.T) {
	key, err := RandomKey()
	require.NoError(t, err)
	m, err := NewMAC(key)
	require.NoError(t, err)

	t1 := m.Sum([]byte("ab"), []byte("c"))
	t2 := m.Sum([]byte("a"), []byte("bc"))
	assert.False(t, Equal(t1, t2))
	assert.True(t, Equal(t1, m.Sum([]byte("ab"), []byte("c"))))

	other, err := RandomKey()
	require.NoError(t, err)
	m2, err := NewMAC(other)
	require.NoError(t, err)
	assert.False(t, Equal(t1, m2.Sum([]byte("ab"), []byte("c"))))
}

func TestNewMAC_RejectsShortKey(t *testing.T) {
	_, err := NewMAC([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}
