package secondary

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"

	"github.com/golang/snappy"
)

// CompressionCodec represents a value compression algorithm.
type CompressionCodec string

const (
	CompressionNone   CompressionCodec = "none"
	CompressionGzip   CompressionCodec = "gzip"
	CompressionSnappy CompressionCodec = "snappy"
)

var (
	compressMagic = []byte("CMP1")

	ErrValueTooLarge    = errors.New("secondary: value exceeds max size")
	ErrUnsupportedCodec = errors.New("secondary: unsupported compression codec")
)

// encodeValue always writes the magic header, even for CompressionNone, so
// that a stored value which itself starts with the magic is never mistaken
// for a compressed one.
func encodeValue(codec CompressionCodec, max int, value []byte) ([]byte, error) {
	if max > 0 && len(value) > max {
		return nil, ErrValueTooLarge
	}
	var buf bytes.Buffer
	switch codec {
	case "", CompressionNone:
		buf.Write(compressMagic)
		_ = buf.WriteByte('n')
		buf.Write(value)
	case CompressionGzip:
		buf.Write(compressMagic)
		_ = buf.WriteByte('g')
		zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if _, err := zw.Write(value); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case CompressionSnappy:
		buf.Write(compressMagic)
		_ = buf.WriteByte('s')
		buf.Write(snappy.Encode(nil, value))
	default:
		return nil, ErrUnsupportedCodec
	}
	out := buf.Bytes()
	if max > 0 && len(out)-len(compressMagic)-1 > max {
		return nil, ErrValueTooLarge
	}
	return out, nil
}

// decodeValue reverses encodeValue. Values without the magic prefix are
// returned unchanged so that entries written without shaping stay readable.
func decodeValue(in []byte) ([]byte, error) {
	if len(in) < len(compressMagic)+1 || !bytes.Equal(in[:len(compressMagic)], compressMagic) {
		return in, nil
	}
	payload := in[len(compressMagic)+1:]
	switch in[len(compressMagic)] {
	case 'n':
		return payload, nil
	case 'g':
		gr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, ErrCorrupt
		}
		defer gr.Close()
		out, err := io.ReadAll(gr)
		if err != nil {
			return nil, ErrCorrupt
		}
		return out, nil
	case 's':
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, ErrCorrupt
		}
		return out, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}
