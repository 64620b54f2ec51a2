package partman

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// lz4SizeThreshold is the payload size, in bytes, below which lz4's lower
// fixed overhead beats zstd's better ratio. This mirrors the teacher's own
// producer compression selection: small batches and large ones are not
// compressed the same way (see kgo's per-codec compressor pool, picked by
// the configured preference list).
const lz4SizeThreshold = 512

// sampleCodec compresses and decompresses the gob-encoded Sample payload
// carried by a NotifySample entry. Two codecs are kept, not one, because a
// single fixed algorithm is a poor fit across the size range runtime
// samples actually take: a short event sample pays lz4's lower per-call
// overhead, while a larger data batch benefits from zstd's ratio.
type sampleCodec struct {
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

func newSampleCodec() (*sampleCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("partman: init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("partman: init zstd decoder: %w", err)
	}
	return &sampleCodec{zstdEnc: enc, zstdDec: dec}, nil
}

// encode gob-encodes s and compresses the result, prefixing one tag byte
// so decode knows which codec to reverse.
func (c *sampleCodec) encode(s Sample) ([]byte, error) {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(s); err != nil {
		return nil, fmt.Errorf("partman: encode sample: %w", err)
	}
	body := raw.Bytes()

	if len(body) < lz4SizeThreshold {
		compressed := make([]byte, lz4.CompressBlockBound(len(body)))
		n, err := lz4.CompressBlock(body, compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("partman: lz4 compress sample: %w", err)
		}
		if n == 0 {
			// incompressible: lz4.CompressBlock returns n==0 rather than
			// expanding the input; fall back to storing it raw.
			return append([]byte{codecRaw}, body...), nil
		}
		out := make([]byte, 0, n+9)
		out = append(out, codecLZ4)
		out = appendUvarint(out, uint64(len(body)))
		out = append(out, compressed[:n]...)
		return out, nil
	}

	out := []byte{codecZstd}
	out = c.zstdEnc.EncodeAll(body, out)
	return out, nil
}

func (c *sampleCodec) decode(b []byte) (Sample, error) {
	var sample Sample
	if len(b) == 0 {
		return sample, fmt.Errorf("partman: decode sample: empty payload")
	}
	tag, rest := b[0], b[1:]

	var body []byte
	switch tag {
	case codecRaw:
		body = rest
	case codecLZ4:
		origLen, n, err := readUvarint(rest)
		if err != nil {
			return sample, fmt.Errorf("partman: decode sample: %w", err)
		}
		body = make([]byte, origLen)
		if _, err := lz4.UncompressBlock(rest[n:], body); err != nil {
			return sample, fmt.Errorf("partman: lz4 decompress sample: %w", err)
		}
	case codecZstd:
		decoded, err := c.zstdDec.DecodeAll(rest, nil)
		if err != nil {
			return sample, fmt.Errorf("partman: zstd decompress sample: %w", err)
		}
		body = decoded
	default:
		return sample, fmt.Errorf("partman: decode sample: unknown codec tag %d", tag)
	}

	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&sample); err != nil {
		return sample, fmt.Errorf("partman: decode sample: %w", err)
	}
	return sample, nil
}

const (
	codecRaw byte = iota
	codecLZ4
	codecZstd
)

func appendUvarint(b []byte, v uint64) []byte {
	var buf [10]byte
	n := 0
	for v >= 0x80 {
		buf[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	buf[n] = byte(v)
	n++
	return append(b, buf[:n]...)
}

func readUvarint(b []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i, c := range b {
		if c < 0x80 {
			return v | uint64(c)<<shift, i + 1, nil
		}
		v |= uint64(c&0x7f) << shift
		shift += 7
		if shift > 63 {
			return 0, 0, fmt.Errorf("uvarint overflow")
		}
	}
	return 0, 0, fmt.Errorf("uvarint truncated")
}
