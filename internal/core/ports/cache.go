package ports

import (
	"context"

	"go.sykli.dev/core/internal/core/domain"
)

// Cache is the content-addressed store behind spec §4.2: fingerprint a task
// by its inputs, environment, and upstream outputs; skip re-execution on a
// hit; persist outputs on a miss.
//
//go:generate mockgen -source=cache.go -destination=mocks/mock_cache.go -package=mocks
type Cache interface {
	// Fingerprint computes the cache key for a task given its resolved input
	// file hashes and upstream task fingerprints.
	Fingerprint(task *domain.Task, inputHashes map[string]string, upstream map[string]string) (string, error)

	// Check reports whether a fingerprint has a stored entry.
	Check(ctx context.Context, key string) (domain.CacheCheckResult, error)

	// Restore copies a hit entry's stored outputs into workdir.
	Restore(ctx context.Context, key string, workdir string) (domain.CacheEntry, error)

	// Store persists a task's outputs under the given fingerprint. At most
	// one concurrent Store per key is ever in flight; readers observe either
	// the previous entry or the new one, never a partial write.
	Store(ctx context.Context, key string, entry domain.CacheEntry, workdir string) error
}
