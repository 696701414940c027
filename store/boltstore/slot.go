package boltstore

import (
	"bytes"

	"go.etcd.io/bbolt"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/codec"
	"github.com/IvanBrykalov/refcache/ref"
)

// slot keeps one payload as a record of a bolt bucket.
type slot[V any] struct {
	db     *bbolt.DB
	bucket []byte
	key    []byte
	ser    codec.Serializer[V]
}

func (s *slot[V]) Load() (V, bool, error) {
	var (
		v  V
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errNoBucket
		}
		raw := b.Get(s.key)
		if raw == nil {
			return nil
		}
		// raw is only valid inside the transaction.
		var err error
		v, err = s.ser.ReadExternal(bytes.NewReader(raw))
		ok = err == nil
		return err
	})
	if err != nil {
		var zero V
		return zero, false, cacheerr.Persistence("boltstore.Load", err)
	}
	return v, ok, nil
}

func (s *slot[V]) Store(v V) error {
	raw, err := codec.Marshal(s.ser, v)
	if err != nil {
		return cacheerr.Persistence("boltstore.Store", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errNoBucket
		}
		return b.Put(s.key, raw)
	})
	if err != nil {
		return cacheerr.Persistence("boltstore.Store", err)
	}
	return nil
}

func (s *slot[V]) Clear() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return errNoBucket
		}
		return b.Delete(s.key)
	})
	if err != nil {
		return cacheerr.Persistence("boltstore.Clear", err)
	}
	return nil
}

var _ ref.Slot[int] = (*slot[int])(nil)
