// Package demofs is a reference in-memory filesystem that satisfies
// server9.AttachFunc/server9.Handle: a small tree of directories and
// files kept entirely in process memory, with Qid.Path allocation
// backed by a small bbolt database so paths stay stable across process
// restarts for a given tree layout. It exists to exercise server9
// end-to-end and as a worked example for anyone wiring up their own
// backend; it is not part of the protocol engine itself.
package demofs

import (
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/spaolacci/murmur3"
)

var qidBucket = []byte("qids")

// QidAllocator hands out stable, collision-resistant Qid.Path values
// keyed by a file's full path string, persisting the assignment in a
// bbolt database the way the teacher's remote/server package opens its
// own metadata store: a single file, a short open timeout so a second
// process fails fast instead of hanging on a stale lock.
type QidAllocator struct {
	mu sync.Mutex
	db *bolt.DB
}

// OpenQidAllocator opens (creating if necessary) a bbolt database at
// dbPath for Qid.Path bookkeeping.
func OpenQidAllocator(dbPath string) (*QidAllocator, error) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(qidBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &QidAllocator{db: db}, nil
}

func (a *QidAllocator) Close() error {
	return a.db.Close()
}

// PathFor returns a stable Qid.Path for fullPath. The first time a
// given fullPath is seen, its path number is derived with murmur3 (a
// deterministic, fast non-cryptographic hash well suited to short
// keys) and recorded; subsequent lookups reuse the stored assignment
// even if fullPath's hash were ever to change meaning across versions.
func (a *QidAllocator) PathFor(fullPath string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var path uint64
	err := a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(qidBucket)
		if v := b.Get([]byte(fullPath)); v != nil {
			path = decodeUint64(v)
			return nil
		}
		path = murmur3.Sum64([]byte(fullPath))
		return b.Put([]byte(fullPath), encodeUint64(path))
	})
	return path, err
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
