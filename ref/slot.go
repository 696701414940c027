package ref

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/codec"
)

// Slot stores a reference's payload. Slots are not safe for concurrent use;
// the owning Entry serializes access.
type Slot[V any] interface {
	// Load returns the payload and whether the slot holds one.
	Load() (V, bool, error)
	// Store replaces the payload.
	Store(v V) error
	// Clear empties the slot.
	Clear() error
}

// ---- strong ----

type strongSlot[V any] struct {
	v  V
	ok bool
}

// NewStrongSlot returns an empty in-memory slot.
func NewStrongSlot[V any]() Slot[V] { return &strongSlot[V]{} }

func (s *strongSlot[V]) Load() (V, bool, error) { return s.v, s.ok, nil }

func (s *strongSlot[V]) Store(v V) error {
	s.v, s.ok = v, true
	return nil
}

func (s *strongSlot[V]) Clear() error {
	var zero V
	s.v, s.ok = zero, false
	return nil
}

// ---- bytes ----

// BytesSlot keeps the payload serialized in memory and decodes it on every
// Load, so readers never share the stored instance.
type BytesSlot[V any] struct {
	ser codec.Serializer[V]
	buf []byte
	ok  bool
}

// NewBytesSlot returns an empty slot that serializes with ser.
func NewBytesSlot[V any](ser codec.Serializer[V]) *BytesSlot[V] {
	return &BytesSlot[V]{ser: ser}
}

func (s *BytesSlot[V]) Load() (V, bool, error) {
	var zero V
	if !s.ok {
		return zero, false, nil
	}
	v, err := s.ser.ReadExternal(bytes.NewReader(s.buf))
	if err != nil {
		return zero, false, cacheerr.Persistence("ref.BytesSlot.Load", err)
	}
	return v, true, nil
}

func (s *BytesSlot[V]) Store(v V) error {
	b, err := codec.Marshal(s.ser, v)
	if err != nil {
		return cacheerr.Persistence("ref.BytesSlot.Store", err)
	}
	s.buf, s.ok = b, true
	return nil
}

func (s *BytesSlot[V]) Clear() error {
	s.buf, s.ok = nil, false
	return nil
}

// Size returns the number of serialized bytes held.
func (s *BytesSlot[V]) Size() int { return len(s.buf) }

// ---- file ----

// FileSlot persists the payload to a file. An absent file is an empty slot.
type FileSlot[V any] struct {
	path string
	ser  codec.Serializer[V]
}

// NewFileSlot returns a slot backed by the file at path.
func NewFileSlot[V any](path string, ser codec.Serializer[V]) *FileSlot[V] {
	return &FileSlot[V]{path: path, ser: ser}
}

// FileSlots returns a factory creating file slots with unique names in dir.
func FileSlots[V any](dir string, ser codec.Serializer[V]) func() Slot[V] {
	return func() Slot[V] {
		return NewFileSlot(filepath.Join(dir, uuid.NewString()+".ref"), ser)
	}
}

// Path returns the backing file path.
func (s *FileSlot[V]) Path() string { return s.path }

func (s *FileSlot[V]) Load() (V, bool, error) {
	var zero V
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return zero, false, nil
		}
		return zero, false, cacheerr.Persistence("ref.FileSlot.Load", err)
	}
	defer f.Close()

	v, err := s.ser.ReadExternal(f)
	if err != nil {
		return zero, false, cacheerr.Persistence("ref.FileSlot.Load", fmt.Errorf("decoding %s: %w", s.path, err))
	}
	return v, true, nil
}

// Store writes to a temporary file in the same directory and renames it over
// the target, so a failed write never leaves a truncated payload behind.
func (s *FileSlot[V]) Store(v V) error {
	f, err := os.CreateTemp(filepath.Dir(s.path), ".ref-*")
	if err != nil {
		return cacheerr.Persistence("ref.FileSlot.Store", err)
	}
	tmp := f.Name()
	if err := s.ser.WriteExternal(v, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return cacheerr.Persistence("ref.FileSlot.Store", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return cacheerr.Persistence("ref.FileSlot.Store", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return cacheerr.Persistence("ref.FileSlot.Store", err)
	}
	return nil
}

func (s *FileSlot[V]) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cacheerr.Persistence("ref.FileSlot.Clear", err)
	}
	return nil
}
