package resolve

import "encoding/json"

// ValueCodec defines how values are encoded for the secondary store and
// for remote round trips.
type ValueCodec[V any] struct {
	Encode func(V) ([]byte, error)
	Decode func([]byte) (V, error)
}

// CodecRequest lets a request override the default value codec.
type CodecRequest[V any] interface {
	ValueCodec() ValueCodec[V]
}

// DefaultValueCodec stores []byte values as they are and JSON-encodes
// everything else.
func DefaultValueCodec[V any]() ValueCodec[V] {
	return ValueCodec[V]{
		Encode: func(v V) ([]byte, error) {
			if b, ok := any(v).([]byte); ok {
				return b, nil
			}
			return json.Marshal(v)
		},
		Decode: func(b []byte) (V, error) {
			var out V
			if p, ok := any(&out).(*[]byte); ok {
				*p = append([]byte{}, b...)
				return out, nil
			}
			err := json.Unmarshal(b, &out)
			return out, err
		},
	}
}

func codecFor[V any](req any) ValueCodec[V] {
	if cr, ok := req.(CodecRequest[V]); ok {
		return cr.ValueCodec()
	}
	return DefaultValueCodec[V]()
}

// sizeOf estimates the memory footprint of v. encoded may be nil.
func sizeOf(v any, encoded []byte) int64 {
	switch x := v.(type) {
	case Sizer:
		return x.Size()
	case []byte:
		return int64(len(x))
	case string:
		return int64(len(x))
	}
	if encoded != nil {
		return int64(len(encoded))
	}
	if b, err := json.Marshal(v); err == nil {
		return int64(len(b))
	}
	return 1
}
