package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

const defaultBoltTimeout = 2 * time.Second

var (
	conversationsBucket = []byte("conversations")
	// undecodable per-user values, kept for inspection
	corruptBucket = []byte("conversations_corrupt")
)

// BoltPersister keeps one JSON-encoded turn list per user key. Each append is a
// single read-modify-write transaction on that key.
type BoltPersister struct {
	db *bolt.DB
}

// OpenBolt opens or creates the store at path, waiting up to timeout for the
// file lock (zero means 2s). Only a file bolt rejects as corrupt is moved aside
// to path.corrupt-<unix> and replaced by a fresh store; every other error,
// including a lock held by another process, is returned with the file untouched.
func OpenBolt(path string, timeout time.Duration) (*BoltPersister, error) {
	if timeout <= 0 {
		timeout = defaultBoltTimeout
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	opts := &bolt.Options{Timeout: timeout}
	db, err := bolt.Open(path, 0o600, opts)
	if isCorrupt(err) {
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("open bolt %s: %w", path, err)
		}
		db, err = bolt.Open(path, 0o600, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return &BoltPersister{db: db}, nil
}

func isCorrupt(err error) bool {
	return errors.Is(err, berrors.ErrInvalid) ||
		errors.Is(err, berrors.ErrChecksum) ||
		errors.Is(err, berrors.ErrVersionMismatch)
}

func (p *BoltPersister) Close() error { return p.db.Close() }

func (p *BoltPersister) LoadAll(context.Context) (map[string][]Turn, error) {
	out := map[string][]Turn{}
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var turns []Turn
			if len(v) > 0 {
				if e := json.Unmarshal(v, &turns); e != nil {
					// Append moves the value aside on the next write
					return nil
				}
			}
			out[string(k)] = turns
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *BoltPersister) Append(ctx context.Context, userID string, turns []Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(conversationsBucket)
		if err != nil {
			return err
		}
		var existing []Turn
		if v := b.Get([]byte(userID)); len(v) > 0 {
			if err := json.Unmarshal(v, &existing); err != nil {
				// keep the undecodable bytes for inspection and start the user over
				aside, err := tx.CreateBucketIfNotExists(corruptBucket)
				if err != nil {
					return err
				}
				if err := aside.Put([]byte(userID), append([]byte(nil), v...)); err != nil {
					return err
				}
				existing = nil
			}
		}
		enc, err := json.Marshal(append(existing, turns...))
		if err != nil {
			return err
		}
		return b.Put([]byte(userID), enc)
	})
}

