// Package boltstore is a file-backed secondary store on bbolt. Payloads
// live in one bucket and are read back on every Get; the references it
// returns use a bolt-backed slot, so removing one deletes its record.
//
// The store also implements store.KeySaver, recording keys in a second
// bucket for the external-context action.
package boltstore

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/refcache/cacheerr"
	"github.com/IvanBrykalov/refcache/codec"
	"github.com/IvanBrykalov/refcache/ref"
	"github.com/IvanBrykalov/refcache/store"
)

var errNoBucket = errors.New("bucket missing")

// Options configures a Store. Zero values are safe:
//   - Bucket ""  => "refcache"
//   - nil Keys   => codec.JSON
//   - nil Values => codec.Gob, wrapped in codec.Zstd when Compress is set
//   - nil Logger => zap.NewNop()
type Options[K comparable, V any] struct {
	Bucket   string
	Keys     codec.Serializer[K]
	Values   codec.Serializer[V]
	Compress bool
	Logger   *zap.Logger
}

// Store persists payloads in a bolt database.
type Store[K comparable, V any] struct {
	db     *bbolt.DB
	values []byte // bucket names
	saved  []byte
	keys   codec.Serializer[K]
	ser    codec.Serializer[V]
	log    *zap.Logger

	// wmu serializes writers, so a key never has two live references.
	wmu  sync.Mutex
	mu   sync.Mutex
	refs map[K]*ref.KeyEntry[K, V]
}

// Open opens (or creates) the database at path.
func Open[K comparable, V any](path string, opt Options[K, V]) (*Store[K, V], error) {
	if opt.Bucket == "" {
		opt.Bucket = "refcache"
	}
	if opt.Keys == nil {
		opt.Keys = codec.JSON[K]()
	}
	if opt.Values == nil {
		opt.Values = codec.Gob[V]()
	}
	if opt.Compress {
		opt.Values = codec.Zstd(opt.Values)
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, cacheerr.Persistence("boltstore.Open", err)
	}
	s := &Store[K, V]{
		db:     db,
		values: []byte(opt.Bucket),
		saved:  []byte(opt.Bucket + ".keys"),
		keys:   opt.Keys,
		ser:    opt.Values,
		log:    opt.Logger.Named("boltstore").With(zap.String("path", path)),
		refs:   make(map[K]*ref.KeyEntry[K, V]),
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(s.values); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(s.saved)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, cacheerr.Persistence("boltstore.Open", err)
	}
	return s, nil
}

// Put writes v under key and returns its reference. A previous reference
// for key is removed first.
func (s *Store[K, V]) Put(key K, v V) (ref.Ref[V], error) {
	bk, err := codec.Marshal(s.keys, key)
	if err != nil {
		return nil, cacheerr.Persistence("boltstore.Put", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.dropRef(key)

	r, err := ref.NewKeyed(key, &slot[V]{db: s.db, bucket: s.values, key: bk, ser: s.ser}, v)
	if err != nil {
		return nil, err
	}
	r.AddRemoveListener(s)

	s.mu.Lock()
	s.refs[key] = r
	s.mu.Unlock()
	return r, nil
}

// Get reads the payload stored under key.
func (s *Store[K, V]) Get(key K) (V, bool, error) {
	var zero V
	bk, err := codec.Marshal(s.keys, key)
	if err != nil {
		return zero, false, cacheerr.Persistence("boltstore.Get", err)
	}
	return (&slot[V]{db: s.db, bucket: s.values, key: bk, ser: s.ser}).Load()
}

// Remove deletes key and removes its reference.
func (s *Store[K, V]) Remove(key K) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.dropRef(key) {
		return nil
	}
	bk, err := codec.Marshal(s.keys, key)
	if err != nil {
		return cacheerr.Persistence("boltstore.Remove", err)
	}
	return (&slot[V]{db: s.db, bucket: s.values, key: bk, ser: s.ser}).Clear()
}

// Clear removes every reference and empties the payload bucket.
func (s *Store[K, V]) Clear() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	refs := make([]*ref.KeyEntry[K, V], 0, len(s.refs))
	for _, r := range s.refs {
		refs = append(refs, r)
	}
	clear(s.refs)
	s.mu.Unlock()

	for _, r := range refs {
		r.Remove(s)
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(s.values); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(s.values)
		return err
	})
	if err != nil {
		return cacheerr.Persistence("boltstore.Clear", err)
	}
	return nil
}

// Len returns the number of records in the payload bucket.
func (s *Store[K, V]) Len() int {
	n := 0
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(s.values); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

// OnRemove unlinks a reference removed by someone else.
func (s *Store[K, V]) OnRemove(r ref.Ref[V]) {
	k, ok := ref.KeyOf[K](r)
	if !ok {
		return
	}
	s.mu.Lock()
	if cur, ok := s.refs[k]; ok && ref.Ref[V](cur) == r {
		delete(s.refs, k)
	}
	s.mu.Unlock()
}

// SaveKey implements store.KeySaver. The record's value is the save time.
func (s *Store[K, V]) SaveKey(key K) error {
	bk, err := codec.Marshal(s.keys, key)
	if err != nil {
		return cacheerr.Persistence("boltstore.SaveKey", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.saved)
		if b == nil {
			return errNoBucket
		}
		return b.Put(bk, binary.BigEndian.AppendUint64(nil, uint64(time.Now().UnixNano())))
	})
	if err != nil {
		return cacheerr.Persistence("boltstore.SaveKey", err)
	}
	return nil
}

// SavedKeys returns every key recorded by SaveKey, in byte order of their
// encoding.
func (s *Store[K, V]) SavedKeys() ([]K, error) {
	var keys []K
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.saved)
		if b == nil {
			return errNoBucket
		}
		return b.ForEach(func(bk, _ []byte) error {
			k, err := codec.Unmarshal(s.keys, bk)
			if err != nil {
				return err
			}
			keys = append(keys, k)
			return nil
		})
	})
	if err != nil {
		return nil, cacheerr.Persistence("boltstore.SavedKeys", err)
	}
	return keys, nil
}

// Close closes the database. References handed out keep their keys but
// fail every payload access afterwards.
func (s *Store[K, V]) Close() error {
	s.mu.Lock()
	clear(s.refs)
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return cacheerr.Persistence("boltstore.Close", err)
	}
	s.log.Debug("closed")
	return nil
}

func (s *Store[K, V]) dropRef(key K) bool {
	s.mu.Lock()
	r, ok := s.refs[key]
	delete(s.refs, key)
	s.mu.Unlock()
	if ok {
		r.Remove(s)
	}
	return ok
}

var (
	_ store.Store[string, int] = (*Store[string, int])(nil)
	_ store.KeySaver[string]   = (*Store[string, int])(nil)
	_ ref.RemoveListener[int]  = (*Store[string, int])(nil)
)
