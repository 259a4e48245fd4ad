// Package digest turns request trees into stable, printable content digests.
package digest

import (
	"bytes"
	_ "crypto/sha256"
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"

	godigest "github.com/opencontainers/go-digest"
)

// Hashable is implemented by values that fold themselves into a Hasher.
// Implementations must visit their parts in a fixed order. The Hasher writes
// the value's identity before calling HashTo, so two types with the same
// parts never share a digest.
type Hashable interface {
	HashTo(h *Hasher)
}

// Operation is implemented by requests with an explicit, stable operation id.
// The id is their identity; other Hashable values are identified by their
// package path and type name.
type Operation interface {
	OperationID() string
}

func identity(v reflect.Value) string {
	if op, ok := v.Interface().(Operation); ok {
		return op.OperationID()
	}
	t := v.Type()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// Hasher accumulates values into a SHA-256 digest.
//
// Every value is written as a kind tag followed by a length-prefixed payload,
// so adjacent values cannot run into each other ("ab","c" differs from "a","bc").
// Maps are written in sorted key order; everything else is order-sensitive.
type Hasher struct {
	digester godigest.Digester
	w        io.Writer
	finished bool
	result   string
}

// New returns an empty Hasher.
func New() *Hasher {
	d := godigest.Canonical.Digester()
	return &Hasher{digester: d, w: d.Hash()}
}

// Of hashes values in order and returns the digest string.
func Of(values ...any) string {
	h := New()
	for _, v := range values {
		h.Update(v)
	}
	return h.String()
}

// Update folds v into the running state. It panics when called after Finish,
// or when v contains a kind that has no stable encoding (func, chan, unsafe pointer).
func (h *Hasher) Update(v any) {
	if h.finished {
		panic("digest: update after finish")
	}
	h.encode(reflect.ValueOf(v))
}

// Finish finalizes the digest. Further calls are no-ops.
func (h *Hasher) Finish() {
	if h.finished {
		return
	}
	h.finished = true
	h.result = h.digester.Digest().Encoded()
}

// String returns the lowercase hex digest, finishing the Hasher if needed.
func (h *Hasher) String() string {
	h.Finish()
	return h.result
}

const (
	tagNil       = 'n'
	tagBool      = 'b'
	tagInt       = 'i'
	tagUint      = 'u'
	tagFloat     = 'f'
	tagComplex   = 'c'
	tagString    = 's'
	tagBytes     = 'y'
	tagList      = 'l'
	tagMap       = 'm'
	tagStruct    = 't'
	tagHashable  = 'h'
	tagMarshaled = 'B'
)

var (
	hashableType  = reflect.TypeOf((*Hashable)(nil)).Elem()
	marshalerType = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
)

func (h *Hasher) tag(t byte) {
	h.w.Write([]byte{t})
}

func (h *Hasher) uint64(n uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	h.w.Write(buf[:])
}

func (h *Hasher) bytes(t byte, b []byte) {
	h.tag(t)
	h.uint64(uint64(len(b)))
	h.w.Write(b)
}

func (h *Hasher) encode(v reflect.Value) {
	if !v.IsValid() {
		h.tag(tagNil)
		return
	}
	// Interface values are hashed through their dynamic value below.
	if v.CanInterface() && v.Kind() != reflect.Interface {
		if !v.Type().Implements(hashableType) && v.Kind() != reflect.Pointer &&
			reflect.PointerTo(v.Type()).Implements(hashableType) {
			// HashTo has a pointer receiver; hash through an addressable copy so
			// that T{} and &T{} agree.
			p := reflect.New(v.Type())
			p.Elem().Set(v)
			v = p
		}
		if v.Type().Implements(hashableType) {
			if v.Kind() == reflect.Pointer && v.IsNil() {
				h.tag(tagNil)
				return
			}
			h.tag(tagHashable)
			h.bytes(tagString, []byte(identity(v)))
			v.Interface().(Hashable).HashTo(h)
			return
		}
		if v.Type().Implements(marshalerType) && !(v.Kind() == reflect.Pointer && v.IsNil()) {
			b, err := v.Interface().(encoding.BinaryMarshaler).MarshalBinary()
			if err != nil {
				panic(fmt.Sprintf("digest: marshal %s: %v", v.Type(), err))
			}
			h.bytes(tagMarshaled, b)
			return
		}
	}

	switch v.Kind() {
	case reflect.Bool:
		h.tag(tagBool)
		if v.Bool() {
			h.w.Write([]byte{1})
		} else {
			h.w.Write([]byte{0})
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		h.tag(tagInt)
		h.uint64(uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		h.tag(tagUint)
		h.uint64(v.Uint())
	case reflect.Float32, reflect.Float64:
		h.tag(tagFloat)
		h.uint64(math.Float64bits(v.Float()))
	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		h.tag(tagComplex)
		h.uint64(math.Float64bits(real(c)))
		h.uint64(math.Float64bits(imag(c)))
	case reflect.String:
		h.bytes(tagString, []byte(v.String()))
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			h.bytes(tagBytes, v.Bytes())
			return
		}
		h.list(v)
	case reflect.Array:
		h.list(v)
	case reflect.Map:
		h.mapping(v)
	case reflect.Struct:
		h.structure(v)
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			h.tag(tagNil)
			return
		}
		h.encode(v.Elem())
	default:
		panic(fmt.Sprintf("digest: cannot hash value of kind %s", v.Kind()))
	}
}

func (h *Hasher) list(v reflect.Value) {
	h.tag(tagList)
	h.uint64(uint64(v.Len()))
	for i := 0; i < v.Len(); i++ {
		h.encode(v.Index(i))
	}
}

type mapEntry struct {
	key   []byte
	value reflect.Value
}

func (h *Hasher) mapping(v reflect.Value) {
	entries := make([]mapEntry, 0, v.Len())
	saved := h.w
	iter := v.MapRange()
	for iter.Next() {
		var buf bytes.Buffer
		h.w = &buf
		h.encode(iter.Key())
		entries = append(entries, mapEntry{key: buf.Bytes(), value: iter.Value()})
	}
	h.w = saved
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	h.tag(tagMap)
	h.uint64(uint64(len(entries)))
	for _, e := range entries {
		h.w.Write(e.key)
		h.encode(e.value)
	}
}

func (h *Hasher) structure(v reflect.Value) {
	t := v.Type()
	fields := make([]int, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("hash") == "-" {
			continue
		}
		fields = append(fields, i)
	}
	h.bytes(tagStruct, []byte(t.Name()))
	h.uint64(uint64(len(fields)))
	for _, i := range fields {
		h.bytes(tagString, []byte(t.Field(i).Name))
		h.encode(v.Field(i))
	}
}
