// Package storage resolves artifact locations to bytes. Artifacts can live on the
// local filesystem, in a BoltDB bundle, in S3 or behind an HTTP(S) URL.
//
// A bundle is a single BoltDB file holding many named artifacts, so a whole
// ensemble can be shipped as one file and referenced as bolt://path#name.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"
)

const (
	artifactsBucket = "artifacts" // artifact bytes by name
	metaBucket      = "meta"      // ArtifactInfo JSON by name
)

// ErrNotFound is returned when a bundle has no artifact under the requested name.
var ErrNotFound = errors.New("artifact not found")

// ArtifactInfo describes one artifact stored in a bundle.
type ArtifactInfo struct {
	Name     string    `json:"name"`
	Size     int       `json:"size"`
	SHA256   string    `json:"sha256"`
	StoredAt time.Time `json:"stored_at"`
}

// Bundle is a BoltDB file of named artifacts.
type Bundle struct {
	mu       sync.Mutex
	db       *bbolt.DB
	readOnly bool
}

// New opens or creates a writable bundle at path.
func New(path string) (*Bundle, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bundle %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(artifactsBucket)); err != nil {
			return errors.Wrap(err, "create artifacts bucket")
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucket)); err != nil {
			return errors.Wrap(err, "create meta bucket")
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bundle{db: db}, nil
}

// Open opens an existing bundle read-only. Several processes may hold it open at once.
func Open(path string) (*Bundle, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "bundle %s", path)
	}
	db, err := bbolt.Open(path, 0o400, &bbolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bundle %s", path)
	}
	return &Bundle{db: db, readOnly: true}, nil
}

// Close closes the bundle. Closing twice is a no-op.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Bundle) handle() (*bbolt.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, errors.New("bundle closed")
	}
	return b.db, nil
}

// Put stores data under name, replacing any previous artifact with that name.
func (b *Bundle) Put(name string, data []byte) error {
	if name == "" {
		return errors.New("artifact name is required")
	}
	if b.readOnly {
		return errors.New("bundle is read-only")
	}
	db, err := b.handle()
	if err != nil {
		return err
	}

	sum := sha256.Sum256(data)
	info := ArtifactInfo{
		Name:     name,
		Size:     len(data),
		SHA256:   hex.EncodeToString(sum[:]),
		StoredAt: time.Now().UTC(),
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "marshal artifact info")
	}

	return db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(artifactsBucket)).Put([]byte(name), data); err != nil {
			return errors.Wrapf(err, "store artifact %s", name)
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(name), meta)
	})
}

// Get returns a copy of the artifact stored under name.
func (b *Bundle) Get(name string) ([]byte, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var out []byte
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(artifactsBucket))
		if bucket == nil {
			return errors.Wrapf(ErrNotFound, "%s: bundle has no artifacts", name)
		}
		v := bucket.Get([]byte(name))
		if v == nil {
			return errors.Wrapf(ErrNotFound, "%s", name)
		}
		// bolt memory is only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// List returns the bundle's artifacts sorted by name.
func (b *Bundle) List() ([]ArtifactInfo, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}

	var infos []ArtifactInfo
	err = db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(metaBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var info ArtifactInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return errors.Wrapf(err, "artifact info %s", k)
			}
			infos = append(infos, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
