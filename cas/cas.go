// Package cas provides content-addressable storage primitives: BLAKE3 content
// hashes, canonical JSON serialization and the Store contract.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"lukechampine.com/blake3"
)

// HashSize is the size in bytes of a content hash.
const HashSize = 32

// Hash is a BLAKE3-256 digest of canonical bytes.
type Hash [HashSize]byte

// ZeroHash is the zero value, used as "no content".
var ZeroHash Hash

// Sum hashes data.
func Sum(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for logs.
func (h Hash) Short() string {
	return h.String()[:12]
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a 64-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("invalid hash length %d", len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// Hasher is a streaming BLAKE3 hasher producing a Hash.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a new streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New(HashSize, nil)}
}

// Write adds data to the running hash.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// WriteString adds s to the running hash.
func (h *Hasher) WriteString(s string) {
	h.h.Write([]byte(s))
}

// Sum returns the digest of everything written so far.
func (h *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], h.h.Sum(nil))
	return out
}

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// CanonicalJSON converts a value to canonical JSON (stable key ordering).
// Numbers are kept in their literal form so integers never round-trip through float64.
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := canonicalMarshal(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalMarshal(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case map[string]interface{}:
		return marshalSortedMap(buf, val)
	case []interface{}:
		return marshalArray(buf, val)
	case json.Number:
		buf.WriteString(val.String())
		return nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(data)
		return nil
	}
}

func marshalSortedMap(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		if err := canonicalMarshal(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func marshalArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := canonicalMarshal(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// HashJSON returns the canonical encoding of v and its hash.
func HashJSON(v interface{}) (Hash, []byte, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return ZeroHash, nil, err
	}
	return Sum(data), data, nil
}

// KindHash hashes a kind-tagged payload: blake3(kind + "\n" + canonicalJSON(payload)).
func KindHash(kind string, payload interface{}) (Hash, error) {
	data, err := CanonicalJSON(payload)
	if err != nil {
		return ZeroHash, err
	}
	h := NewHasher()
	h.WriteString(kind + "\n")
	h.Write(data)
	return h.Sum(), nil
}
