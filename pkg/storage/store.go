// Package storage is the node's embedded key/value persistence layer, a
// generic bucketed KV store over BoltDB: the indexer and cacher each keep
// their own buckets in it instead of sharing one schema. The kernel does not
// persist any state here.
package storage

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// DB is a generic bucketed key/value store backed by BoltDB.
type DB struct {
	bolt *bolt.DB
}

// Open opens (creating if necessary) a BoltDB file at dataDir/name.db.
func Open(dataDir, name string) (*DB, error) {
	path := filepath.Join(dataDir, name+".db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &DB{bolt: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// EnsureBuckets creates any of the named buckets that do not yet exist.
func (d *DB) EnsureBuckets(buckets ...string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

// Put writes key=value into bucket, replacing any prior value.
func (d *DB) Put(bucket, key string, value []byte) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s does not exist", bucket)
		}
		return b.Put([]byte(key), value)
	})
}

// Get reads the value for key from bucket. It returns (nil, nil) if absent.
func (d *DB) Get(bucket, key string) ([]byte, error) {
	var out []byte
	err := d.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s does not exist", bucket)
		}
		v := b.Get([]byte(key))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Delete removes key from bucket.
func (d *DB) Delete(bucket, key string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s does not exist", bucket)
		}
		return b.Delete([]byte(key))
	})
}

// ForEach iterates every key/value pair in bucket in key order.
func (d *DB) ForEach(bucket string, fn func(key string, value []byte) error) error {
	return d.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s does not exist", bucket)
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// WipeBucket deletes and recreates bucket, discarding all its contents.
// Used by Reset operations (§4.3, §4.4) that must re-bootstrap from scratch.
func (d *DB) WipeBucket(bucket string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucket)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucket))
		return err
	})
}
