package versionstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	flock "github.com/theckman/go-flock"

	"github.com/sdboyer/envinfer/internal/kg"
	"github.com/sdboyer/envinfer/internal/model"
)

var (
	versionsBucket = []byte("versions")
	pairsBucket    = []byte("candidates")
)

// diskCache is the on-disk half of the Version Store's read-through cache:
// a single BoltDB file (single writer, concurrent readers -- exactly spec
// §5's "concurrent reads and serialized writes per key" requirement) whose
// access is additionally serialized across OS processes by an advisory
// file lock, since several envinfer invocations may share one cache
// directory.
type diskCache struct {
	db   *bolt.DB
	lock *flock.Flock
	dir  string
}

// openDiskCache opens (creating if necessary) a BoltDB-backed cache file
// under dir.
func openDiskCache(dir string) (*diskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating cache directory %s", dir)
	}

	lock := flock.NewFlock(filepath.Join(dir, "versionstore.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "acquiring cache lock")
	}
	if !locked {
		// Another process holds the lock; block until it's free rather
		// than failing the whole store, since the lock is only ever held
		// for the duration of a bolt write transaction.
		if err := lock.Lock(); err != nil {
			return nil, errors.Wrap(err, "waiting for cache lock")
		}
	}

	db, err := bolt.Open(filepath.Join(dir, "versionstore.db"), 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		lock.Unlock()
		return nil, errors.Wrap(err, "opening bolt cache")
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(versionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(pairsBucket)
		return err
	}); err != nil {
		db.Close()
		lock.Unlock()
		return nil, errors.Wrap(err, "initializing bolt buckets")
	}

	return &diskCache{db: db, lock: lock, dir: dir}, nil
}

// Close releases the bolt handle and the cross-process lock.
func (c *diskCache) Close() error {
	closeErr := c.db.Close()
	if err := c.lock.Unlock(); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}

// residentPackageCount reports the number of keys held across both bolt
// buckets, used as the disk cache's own pressure signal under the same
// "simplicity over hit-rate" policy spec §4.A applies to the in-memory
// cache. It also walks the cache directory with godirwalk and fails if the
// walk fails, but the file count that walk gathers is not part of the
// returned value.
func (c *diskCache) residentPackageCount() (int, error) {
	n := 0
	err := godirwalk.Walk(c.dir, &godirwalk.Options{
		Callback: func(_ string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				n++
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return 0, errors.Wrap(err, "walking cache directory")
	}

	keys := 0
	if err := c.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(versionsBucket); b != nil {
			keys += b.Stats().KeyN
		}
		if b := tx.Bucket(pairsBucket); b != nil {
			keys += b.Stats().KeyN
		}
		return nil
	}); err != nil {
		return 0, errors.Wrap(err, "counting cached bolt keys")
	}
	return keys, nil
}

// clear drops and recreates both buckets, wholesale-evicting the on-disk
// cache (spec §4.A: "the candidate cache is cleared wholesale"). It does
// not touch the in-memory cache; callers clear both halves together.
func (c *diskCache) clear() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(versionsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if err := tx.DeleteBucket(pairsBucket); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(versionsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(pairsBucket)
		return err
	})
}

type storedVersions struct {
	Raw []string `json:"versions"`
}

func (c *diskCache) getVersions(pkg model.PackageName) ([]model.Version, bool, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		raw = tx.Bucket(versionsBucket).Get([]byte(pkg))
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
	}

	var sv storedVersions
	if err := json.Unmarshal(raw, &sv); err != nil {
		return nil, false, errors.Wrap(err, "decoding cached versions")
	}
	out := make([]model.Version, 0, len(sv.Raw))
	for _, r := range sv.Raw {
		v, err := model.ParseVersion(r)
		if err != nil {
			continue // skip entries that no longer parse; not fatal
		}
		out = append(out, v)
	}
	return out, true, nil
}

func (c *diskCache) putVersions(pkg model.PackageName, versions []model.Version) error {
	sv := storedVersions{Raw: make([]string, len(versions))}
	for i, v := range versions {
		sv.Raw[i] = v.String()
	}
	raw, err := json.Marshal(sv)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(versionsBucket).Put([]byte(pkg), raw)
	})
}

type storedPair struct {
	Version    string    `json:"version"`
	MetaSpec   string    `json:"meta_spec"`
	ReposSpec  string    `json:"repos_spec"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type storedPairs struct {
	Pairs []storedPair `json:"pairs"`
}

func (c *diskCache) getPairs(pkg model.PackageName) ([]kg.VersionConstraintPair, bool, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		raw = tx.Bucket(pairsBucket).Get([]byte(pkg))
		return nil
	})
	if err != nil || raw == nil {
		return nil, false, err
	}

	var sp storedPairs
	if err := json.Unmarshal(raw, &sp); err != nil {
		return nil, false, errors.Wrap(err, "decoding cached candidates")
	}
	out := make([]kg.VersionConstraintPair, 0, len(sp.Pairs))
	for _, p := range sp.Pairs {
		v, err := model.ParseVersion(p.Version)
		if err != nil {
			continue
		}
		out = append(out, kg.VersionConstraintPair{
			Version: v,
			Constraint: model.InterpreterConstraint{
				MetaSpec:  p.MetaSpec,
				ReposSpec: p.ReposSpec,
			},
			UploadedAt: p.UploadedAt,
		})
	}
	return out, true, nil
}

func (c *diskCache) putPairs(pkg model.PackageName, pairs []kg.VersionConstraintPair) error {
	sp := storedPairs{Pairs: make([]storedPair, len(pairs))}
	for i, p := range pairs {
		sp.Pairs[i] = storedPair{
			Version:    p.Version.String(),
			MetaSpec:   p.Constraint.MetaSpec,
			ReposSpec:  p.Constraint.ReposSpec,
			UploadedAt: p.UploadedAt,
		}
	}
	raw, err := json.Marshal(sp)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(pairsBucket).Put([]byte(pkg), raw)
	})
}
