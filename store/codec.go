package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codecs name how an object's bytes are kept at rest.
const (
	CodecRaw  = "raw"
	CodecZstd = "zstd"
)

// DefaultCompressAbove is the object size from which content is compressed.
const DefaultCompressAbove = 1 << 10

// EncodeAll and DecodeAll are safe for concurrent use on shared coders.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// compress returns the at-rest form of data and its codec.
func compress(data []byte, above int) ([]byte, string) {
	if above <= 0 || len(data) < above {
		return data, CodecRaw
	}
	packed := encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(packed) >= len(data) {
		return data, CodecRaw
	}
	return packed, CodecZstd
}

func decompress(data []byte, codec string) ([]byte, error) {
	switch codec {
	case CodecRaw:
		return data, nil
	case CodecZstd:
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing content: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown content codec %q", codec)
	}
}
