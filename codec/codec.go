// Package codec provides the serialization contract used by persisted
// references and persisted secondary stores.
package codec

import (
	"bytes"
	"encoding/gob"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"
)

// Serializer writes and reads values of type V.
type Serializer[V any] interface {
	// WriteExternal encodes v into w.
	WriteExternal(v V, w io.Writer) error
	// ReadExternal decodes a value previously written by WriteExternal.
	ReadExternal(r io.Reader) (V, error)
}

// Marshal encodes v into a fresh byte slice.
func Marshal[V any](s Serializer[V], v V) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.WriteExternal(v, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a value from b.
func Unmarshal[V any](s Serializer[V], b []byte) (V, error) {
	return s.ReadExternal(bytes.NewReader(b))
}

// ---- gob ----

// Gob returns the default serializer based on encoding/gob.
func Gob[V any]() Serializer[V] { return gobSerializer[V]{} }

type gobSerializer[V any] struct{}

func (gobSerializer[V]) WriteExternal(v V, w io.Writer) error {
	return gob.NewEncoder(w).Encode(&v)
}

func (gobSerializer[V]) ReadExternal(r io.Reader) (V, error) {
	var v V
	err := gob.NewDecoder(r).Decode(&v)
	return v, err
}

// ---- json ----

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON returns a serializer backed by json-iterator.
func JSON[V any]() Serializer[V] { return jsonSerializer[V]{} }

type jsonSerializer[V any] struct{}

func (jsonSerializer[V]) WriteExternal(v V, w io.Writer) error {
	return jsonAPI.NewEncoder(w).Encode(v)
}

func (jsonSerializer[V]) ReadExternal(r io.Reader) (V, error) {
	var v V
	err := jsonAPI.NewDecoder(r).Decode(&v)
	return v, err
}

// ---- zstd ----

// Zstd wraps inner so that its output is zstd-compressed.
func Zstd[V any](inner Serializer[V]) Serializer[V] { return zstdSerializer[V]{inner: inner} }

type zstdSerializer[V any] struct{ inner Serializer[V] }

func (z zstdSerializer[V]) WriteExternal(v V, w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := z.inner.WriteExternal(v, enc); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func (z zstdSerializer[V]) ReadExternal(r io.Reader) (V, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		var zero V
		return zero, err
	}
	defer dec.Close()
	return z.inner.ReadExternal(dec)
}
