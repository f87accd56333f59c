package core

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"sync"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"
)

var bufferPool = sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}

// --- Compression ---

func Compress(src []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer bufferPool.Put(buf)
	buf.Reset()

	w := lz4.NewWriter(buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}

	// Return strictly sized slice
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}
	return out, nil
}

// --- Hashing ---

func Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ChainHash links a snapshot to the one before it.
func ChainHash(data []byte, prev string) string {
	h := blake3.New(32, nil)
	h.Write(data)
	h.Write([]byte(prev))
	return hex.EncodeToString(h.Sum(nil))
}

// --- Keys ---

const (
	KeyLength   = 6
	keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// redacted is the marker secrets are replaced with in public output.
	redacted = "REDACT"
)

// keyByteLimit is the largest multiple of the alphabet size that fits in a
// byte. Bytes at or above it are discarded so every letter is equally likely.
const keyByteLimit = 256 - 256%len(keyAlphabet)

// GenerateKey returns a random six letter key, used both for game ids and
// player secrets. It never returns the redaction marker.
func GenerateKey() string {
	return keyFrom(func(b []byte) {
		if _, err := rand.Read(b); err != nil {
			for i := range b {
				b[i] = byte(mrand.IntN(256))
			}
		}
	})
}

// keyFrom draws key letters from fill by rejection sampling.
func keyFrom(fill func([]byte)) string {
	buf := make([]byte, KeyLength*2)
	for {
		key := make([]byte, 0, KeyLength)
		for len(key) < KeyLength {
			fill(buf)
			for _, c := range buf {
				if int(c) >= keyByteLimit {
					continue
				}
				key = append(key, keyAlphabet[int(c)%len(keyAlphabet)])
				if len(key) == KeyLength {
					break
				}
			}
		}
		if k := string(key); k != redacted {
			return k
		}
	}
}

// ValidKey reports whether k has the shape of a generated key.
func ValidKey(k string) bool {
	if len(k) != KeyLength || k == redacted {
		return false
	}
	for i := 0; i < len(k); i++ {
		if k[i] < 'A' || k[i] > 'Z' {
			return false
		}
	}
	return true
}

// SecretsEqual compares two tokens in constant time.
func SecretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
