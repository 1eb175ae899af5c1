// Package versionstore implements Component A, the Version Store: a
// cached read-through view of the knowledge graph exposing all versions of
// a package, and per-interpreter-filtered candidate lists (spec §4.A).
package versionstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/sdboyer/envinfer/internal/kg"
	"github.com/sdboyer/envinfer/internal/model"
	golog "github.com/sdboyer/envinfer/log"
)

// defaultMaxResidentPackages bounds the in-memory candidate cache: once
// more than this many distinct packages are resident, the whole cache is
// cleared rather than evicted piecemeal (spec §4.A: "simplicity over
// hit-rate").
const defaultMaxResidentPackages = 200

// Store is the process-wide, read-through cache in front of a kg.Graph.
// It is safe for concurrent use: callers may share one Store across
// concurrent inference jobs provided the underlying Graph tolerates
// concurrent reads (spec §5).
type Store struct {
	graph kg.Graph
	log   *golog.Logger

	maxResidentPackages int

	mu             sync.Mutex
	versionCache   map[model.PackageName][]model.Version
	candidateCache map[candidateKey][]model.Candidate
	candidatePkgs  map[model.PackageName]struct{}

	disk *diskCache // nil if no on-disk cache directory was configured
}

type candidateKey struct {
	pkg   model.PackageName
	interp string
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxResidentPackages overrides the default 200-package bound on the
// in-memory candidate cache.
func WithMaxResidentPackages(n int) Option {
	return func(s *Store) { s.maxResidentPackages = n }
}

// WithLogger attaches a logger for cache-eviction and disk-cache
// diagnostics.
func WithLogger(l *golog.Logger) Option {
	return func(s *Store) { s.log = l.With("versionstore") }
}

// WithDiskCache layers an on-disk, BoltDB-backed cache under the in-memory
// one, rooted at dir. The cache file is guarded by an advisory flock so
// that multiple envinfer processes sharing dir don't corrupt each other's
// writes (spec §5: "the cache supports concurrent reads and serialized
// writes per key").
func WithDiskCache(dir string) Option {
	return func(s *Store) {
		dc, err := openDiskCache(dir)
		if err != nil {
			// A broken disk cache degrades to "no disk cache", never to a
			// hard failure -- the Store remains correct, just slower.
			if s.log != nil {
				s.log.Logf("warning: disk cache unavailable at %s: %s\n", dir, err)
			}
			return
		}
		s.disk = dc
	}
}

// New constructs a Store backed by graph.
func New(graph kg.Graph, opts ...Option) *Store {
	s := &Store{
		graph:                graph,
		maxResidentPackages:  defaultMaxResidentPackages,
		versionCache:         make(map[model.PackageName][]model.Version),
		candidateCache:       make(map[candidateKey][]model.Candidate),
		candidatePkgs:        make(map[model.PackageName]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close releases any disk-cache resources (bolt file handle, flock).
func (s *Store) Close() error {
	if s.disk != nil {
		return s.disk.Close()
	}
	return nil
}

// Versions returns the ordered list of versions for pkg, ascending by
// version order. A missing package yields an empty list, never an error
// (spec §4.A: "callers treat this as 'no candidate', never as an error").
// The version cache is unbounded per job.
func (s *Store) Versions(ctx context.Context, pkg model.PackageName) ([]model.Version, error) {
	s.mu.Lock()
	if cached, ok := s.versionCache[pkg]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	versions, err := s.fetchVersions(ctx, pkg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.versionCache[pkg] = versions
	s.mu.Unlock()
	return versions, nil
}

func (s *Store) fetchVersions(ctx context.Context, pkg model.PackageName) ([]model.Version, error) {
	if s.disk != nil {
		if versions, ok, err := s.disk.getVersions(pkg); err != nil {
			if s.log != nil {
				s.log.Logf("warning: disk cache read failed for %s: %s\n", pkg, err)
			}
		} else if ok {
			return versions, nil
		}
	}

	versions, err := s.graph.Versions(ctx, pkg)
	if err != nil {
		return nil, errors.Wrapf(err, "querying versions for %s", pkg)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })

	if s.disk != nil {
		if err := s.disk.putVersions(pkg, versions); err != nil && s.log != nil {
			s.log.Logf("warning: disk cache write failed for %s: %s\n", pkg, err)
		}
		s.evictDiskCacheIfFull()
	}
	return versions, nil
}

// Candidates returns the ordered list of Candidate for pkg, descending by
// version, filtered to those whose InterpreterConstraint admits interp and
// whose KG upload timestamp is at most deadline (when deadline is
// non-zero). A missing package yields an empty list.
//
// Results are cached only when deadline is zero: a deadline-bounded query
// is a rarer, validation-style lookup (spec §4.A's deadline parameter),
// and caching it would require a cache key per distinct deadline for no
// real benefit.
func (s *Store) Candidates(ctx context.Context, pkg model.PackageName, interp model.InterpreterVersion, deadline time.Time) ([]model.Candidate, error) {
	key := candidateKey{pkg: pkg, interp: interp.String()}

	if deadline.IsZero() {
		s.mu.Lock()
		if cached, ok := s.candidateCache[key]; ok {
			s.mu.Unlock()
			return cached, nil
		}
		s.mu.Unlock()
	}

	pairs, err := s.fetchVersionConstraintPairs(ctx, pkg)
	if err != nil {
		return nil, err
	}

	out := make([]model.Candidate, 0, len(pairs))
	for _, p := range pairs {
		if !p.Constraint.Satisfies(interp) {
			continue
		}
		if !deadline.IsZero() && p.UploadedAt.After(deadline) {
			continue
		}
		out = append(out, model.Candidate{Name: pkg, Version: p.Version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version.Compare(out[j].Version) > 0 })

	if deadline.IsZero() {
		s.recordCandidates(key, out)
	}
	return out, nil
}

func (s *Store) fetchVersionConstraintPairs(ctx context.Context, pkg model.PackageName) ([]kg.VersionConstraintPair, error) {
	if s.disk != nil {
		if pairs, ok, err := s.disk.getPairs(pkg); err != nil {
			if s.log != nil {
				s.log.Logf("warning: disk cache read failed for %s: %s\n", pkg, err)
			}
		} else if ok {
			return pairs, nil
		}
	}

	pairs, err := s.graph.VersionsWithConstraints(ctx, pkg)
	if err != nil {
		return nil, errors.Wrapf(err, "querying candidates for %s", pkg)
	}

	if s.disk != nil {
		if err := s.disk.putPairs(pkg, pairs); err != nil && s.log != nil {
			s.log.Logf("warning: disk cache write failed for %s: %s\n", pkg, err)
		}
		s.evictDiskCacheIfFull()
	}
	return pairs, nil
}

// evictDiskCacheIfFull applies the same "simplicity over hit-rate" bound
// spec §4.A gives the in-memory cache to the on-disk half: once the bolt
// file holds more resident package entries than maxResidentPackages
// across both buckets, it is dropped and recreated empty rather than
// evicted key-by-key. A counting failure is logged and otherwise ignored
// -- a stale resident count just means eviction runs a write later than
// it ideally would, never that the cache goes stale or incorrect.
func (s *Store) evictDiskCacheIfFull() {
	n, err := s.disk.residentPackageCount()
	if err != nil {
		if s.log != nil {
			s.log.Logf("warning: disk cache resident count failed: %s\n", err)
		}
		return
	}
	if n <= s.maxResidentPackages {
		return
	}
	if s.log != nil {
		s.log.Logf("disk cache exceeded %d resident packages, clearing\n", s.maxResidentPackages)
	}
	if err := s.disk.clear(); err != nil && s.log != nil {
		s.log.Logf("warning: disk cache clear failed: %s\n", err)
	}
}

// recordCandidates stores a result in the in-memory candidate cache,
// clearing the whole cache wholesale if doing so would exceed the
// resident-package bound (spec §4.A).
func (s *Store) recordCandidates(key candidateKey, out []model.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, tracked := s.candidatePkgs[key.pkg]; !tracked && len(s.candidatePkgs) >= s.maxResidentPackages {
		if s.log != nil {
			s.log.Logf("candidate cache exceeded %d resident packages, clearing\n", s.maxResidentPackages)
		}
		s.candidateCache = make(map[candidateKey][]model.Candidate)
		s.candidatePkgs = make(map[model.PackageName]struct{})
	}

	s.candidateCache[key] = out
	s.candidatePkgs[key.pkg] = struct{}{}
}
