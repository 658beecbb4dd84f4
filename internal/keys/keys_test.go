package keys

import (
	"crypto"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKnownDigests(t *testing.T) {
	d := New()
	require.False(t, d.Degraded())

	tests := map[string]string{
		"":                                     "d41d8cd98f00b204e9800998ecf8427e",
		"abc":                                  "900150983cd24fb0d6963f7d28e17f72",
		"https://img.example.com/thumbs/1.jpg": "1e5b42b2ccaeb0fb6cd2058ede4e9e9d",
	}
	for url, want := range tests {
		assert.Equal(t, want, d.Derive(url), url)
	}
}

func TestDeriveIsStable(t *testing.T) {
	url := "https://img.example.com/thumbs/1.jpg"
	first := New().Derive(url)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, New().Derive(url))
	}
	assert.Len(t, first, 32)
}

func TestDeriveDistinctForSample(t *testing.T) {
	d := New()
	seen := make(map[string]string, 10000)
	for i := 0; i < 10000; i++ {
		url := fmt.Sprintf("https://img.example.com/photos/%d/thumb.jpg?w=%d", i, i%7)
		key := d.Derive(url)
		prev, dup := seen[key]
		require.False(t, dup, "collision between %q and %q", prev, url)
		seen[key] = url
	}
}

func TestDegradedFallsBackToStringHash(t *testing.T) {
	// MD4 lives in x/crypto and is never linked into this binary.
	d := WithHash(crypto.MD4)
	require.True(t, d.Degraded())

	assert.Equal(t, "0", d.Derive(""))
	assert.Equal(t, "96354", d.Derive("abc"))
	assert.Equal(t, "1392604510", d.Derive("https://img.example.com/thumbs/1.jpg"))
}

func TestStringHashOverflowsLikeInt32(t *testing.T) {
	assert.Equal(t, StringHash("https://img.example.com/thumbs/1.jpg"), StringHash("https://img.example.com/thumbs/1.jpg"))
	assert.NotEqual(t, StringHash("a"), StringHash("b"))
	assert.Equal(t, "97", StringHash("a"))
}
