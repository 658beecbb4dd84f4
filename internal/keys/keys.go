// Package keys derives cache keys from image URLs.
package keys

import (
	"crypto"
	_ "crypto/md5" // registers crypto.MD5
	"encoding/hex"
	"strconv"
	"unicode/utf16"
)

// Deriver maps a URL to the key used by both cache tiers.
type Deriver struct {
	hash crypto.Hash
}

// New returns a Deriver producing MD5 hex digests.
func New() *Deriver {
	return &Deriver{hash: crypto.MD5}
}

// WithHash returns a Deriver using h. If h is not linked into the binary the
// Deriver runs in degraded mode and produces numeric string hashes instead.
func WithHash(h crypto.Hash) *Deriver {
	return &Deriver{hash: h}
}

// Degraded reports whether digests are unavailable and the numeric fallback is in use.
func (d *Deriver) Degraded() bool {
	return !d.hash.Available()
}

// Derive returns the cache key for url.
func (d *Deriver) Derive(url string) string {
	if d.Degraded() {
		return StringHash(url)
	}
	h := d.hash.New()
	h.Write([]byte(url))
	return hex.EncodeToString(h.Sum(nil))
}

// StringHash is the decimal form of the 32-bit polynomial hash (31*h + c) over
// the UTF-16 code units of s.
func StringHash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(c)
	}
	return strconv.FormatInt(int64(h), 10)
}
