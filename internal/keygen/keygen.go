// Package keygen produces subscription key codes.
package keygen

import (
	"crypto/rand"
	"strings"
)

const (
	// Alphabet omits the look-alike characters 0/O and 1/I.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	Prefix   = "SENTINEL"

	Groups    = 6
	GroupSize = 4
)

// rejection bound: the largest multiple of len(Alphabet) that fits in a byte
const maxByte = 256 - (256 % len(Alphabet))

// Generate returns a code in the form SENTINEL-XXXX-XXXX-XXXX-XXXX-XXXX-XXXX.
// Characters are drawn uniformly from Alphabet using crypto/rand.
func Generate() string {
	var b strings.Builder
	b.Grow(len(Prefix) + Groups*(GroupSize+1))
	b.WriteString(Prefix)

	chars := randomChars(Groups * GroupSize)
	for g := 0; g < Groups; g++ {
		b.WriteByte('-')
		b.Write(chars[g*GroupSize : (g+1)*GroupSize])
	}
	return b.String()
}

// Valid reports whether code has the shape produced by Generate.
func Valid(code string) bool {
	parts := strings.Split(code, "-")
	if len(parts) != Groups+1 || parts[0] != Prefix {
		return false
	}
	for _, p := range parts[1:] {
		if len(p) != GroupSize {
			return false
		}
		for i := 0; i < len(p); i++ {
			if strings.IndexByte(Alphabet, p[i]) < 0 {
				return false
			}
		}
	}
	return true
}

func randomChars(n int) []byte {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic("keygen: crypto/rand unavailable: " + err.Error())
		}
		for _, v := range buf {
			if int(v) >= maxByte {
				continue
			}
			out = append(out, Alphabet[int(v)%len(Alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return out
}
