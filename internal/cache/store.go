// Package cache implements the content-addressed task cache (spec §4.2):
// one JSON entry per fingerprint plus a content-addressed blob store for
// output payloads, laid out under <workdir>/.sykli/cache (spec §6.2).
package cache

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.sykli.dev/core/internal/core/domain"
	"go.trai.ch/zerr"
)

// Store implements ports.Cache against the local filesystem, guaranteeing
// at most one concurrent Store per fingerprint (spec §4.2 "Concurrency
// guarantee") via a per-fingerprint lock plus temp-file-then-rename writes.
type Store struct {
	root string // <workdir>/.sykli/cache

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store rooted at <workdir>/.sykli/cache.
func NewStore(workdir string) *Store {
	return &Store{
		root:  filepath.Join(workdir, ".sykli", "cache"),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) entryPath(key string) string {
	return filepath.Join(s.root, "entries", key+".json")
}

func (s *Store) blobPath(contentHash string) string {
	return filepath.Join(s.root, "blobs", contentHash)
}

func (s *Store) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Fingerprint delegates to a Fingerprinter; Store itself only persists.
func (s *Store) Fingerprint(task *domain.Task, inputHashes map[string]string, upstream map[string]string) (string, error) {
	return NewFingerprinter().Fingerprint(task, inputHashes, upstream)
}

// Check reports whether key has a stored entry.
func (s *Store) Check(_ context.Context, key string) (domain.CacheCheckResult, error) {
	_, err := os.Stat(s.entryPath(key))
	if os.IsNotExist(err) {
		return domain.CacheCheckResult{Hit: false, Key: key, Reason: domain.MissNoEntry}, nil
	}
	if err != nil {
		return domain.CacheCheckResult{}, zerr.Wrap(domain.ErrCacheCorrupt, err.Error())
	}
	return domain.CacheCheckResult{Hit: true, Key: key}, nil
}

// Restore copies a hit entry's blobs into workdir at their declared output paths.
func (s *Store) Restore(_ context.Context, key string, workdir string) (domain.CacheEntry, error) {
	raw, err := os.ReadFile(s.entryPath(key)) //nolint:gosec // key is a hex fingerprint, not user path input
	if err != nil {
		return domain.CacheEntry{}, zerr.With(domain.ErrCacheRestoreFailed, "key", key)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.CacheEntry{}, zerr.With(domain.ErrCacheCorrupt, "key", key)
	}

	for outputName, contentHash := range entry.StoredOutputs {
		dest := filepath.Join(workdir, outputName)
		if err := copyBlob(s.blobPath(contentHash), dest); err != nil {
			return domain.CacheEntry{}, zerr.With(domain.ErrCacheRestoreFailed, "key", key, "output", outputName)
		}
	}
	return entry, nil
}

// Store persists entry under key. Writes go to a temp file then an atomic
// rename, so a concurrent Check/Restore observes either the previous entry
// or the complete new one, never a partial write.
func (s *Store) Store(_ context.Context, key string, entry domain.CacheEntry, workdir string) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Join(s.root, "blobs"), 0o755); err != nil {
		return zerr.Wrap(domain.ErrCacheStoreFailed, err.Error())
	}
	if err := os.MkdirAll(filepath.Join(s.root, "entries"), 0o755); err != nil {
		return zerr.Wrap(domain.ErrCacheStoreFailed, err.Error())
	}

	storedOutputs := make(map[string]string, len(entry.StoredOutputs))
	for outputName, relPath := range entry.StoredOutputs {
		src := filepath.Join(workdir, relPath)
		contentHash, err := HashFile(src)
		if err != nil {
			return zerr.With(domain.ErrCacheStoreFailed, "output", outputName)
		}
		if err := writeBlobAtomic(src, s.blobPath(contentHash)); err != nil {
			return zerr.With(domain.ErrCacheStoreFailed, "output", outputName)
		}
		storedOutputs[outputName] = contentHash
	}
	entry.StoredOutputs = storedOutputs

	raw, err := json.Marshal(entry)
	if err != nil {
		return zerr.Wrap(domain.ErrCacheStoreFailed, err.Error())
	}

	return writeFileAtomic(s.entryPath(key), raw)
}

func writeFileAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // best effort; rename below removes it on success

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dest)
}

func writeBlobAtomic(src, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil // content-addressed: identical hash means identical bytes already stored
	}

	data, err := os.ReadFile(src) //nolint:gosec // src is a task-declared output path under workdir
	if err != nil {
		return err
	}
	return writeFileAtomic(dest, data)
}

func copyBlob(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src) //nolint:gosec // src is a content-addressed blob path we computed
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dest) //nolint:gosec // dest resolved from task-declared outputs under workdir
	if err != nil {
		return err
	}
	defer out.Close() //nolint:errcheck

	_, err = io.Copy(out, in)
	return err
}

// ResolveInputs expands a task's input glob patterns (supporting **, *, and
// exact paths) relative to root into a sorted, deduplicated file list.
// Returns ErrCacheNoInputsFound if a pattern matches nothing.
func ResolveInputs(inputs []string, root string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, pattern := range inputs {
		matches, err := doublestar.FilepathGlob(filepath.Join(root, pattern))
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to glob input pattern"), "pattern", pattern)
		}
		if len(matches) == 0 {
			return nil, zerr.With(domain.ErrCacheNoInputsFound, "pattern", pattern)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}

	sort.Strings(out)
	return out, nil
}
