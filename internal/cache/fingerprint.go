package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"go.sykli.dev/core/internal/core/domain"
	"go.trai.ch/zerr"
)

// Fingerprinter computes content-addressed cache keys (spec §4.2): a task's
// configuration, environment, input file contents, and upstream
// fingerprints are folded into a single SHA-256 digest.
type Fingerprinter struct{}

// NewFingerprinter creates a Fingerprinter.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint computes the cache key for task, given the concrete file
// hashes for its resolved inputs (path -> xxhash digest, hex-encoded) and
// the fingerprints of the upstream tasks it directly depends on
// (name -> fingerprint). Returns ErrCacheNotCacheable if the task declares
// no inputs.
func (f *Fingerprinter) Fingerprint(task *domain.Task, inputHashes map[string]string, upstream map[string]string) (string, error) {
	if !task.Cacheable() {
		return "", domain.ErrCacheNotCacheable
	}

	h := sha256.New()

	io.WriteString(h, task.Name.String())
	h.Write([]byte{0})
	io.WriteString(h, task.Command)
	h.Write([]byte{0})
	io.WriteString(h, task.Container)
	h.Write([]byte{0})

	envKeys := make([]string, 0, len(task.Env))
	envMap := task.EnvMap()
	for k := range envMap {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		io.WriteString(h, k)
		h.Write([]byte{'='})
		io.WriteString(h, envMap[k])
		h.Write([]byte{0})
	}
	h.Write([]byte{0})

	inputPaths := make([]string, 0, len(inputHashes))
	for p := range inputHashes {
		inputPaths = append(inputPaths, p)
	}
	sort.Strings(inputPaths)
	for _, p := range inputPaths {
		io.WriteString(h, p)
		h.Write([]byte{0})
		io.WriteString(h, inputHashes[p])
		h.Write([]byte{0})
	}
	h.Write([]byte{0})

	upstreamNames := make([]string, 0, len(upstream))
	for n := range upstream {
		upstreamNames = append(upstreamNames, n)
	}
	sort.Strings(upstreamNames)
	for _, n := range upstreamNames {
		io.WriteString(h, n)
		h.Write([]byte{0})
		io.WriteString(h, upstream[n])
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile computes the fast content digest used for the per-input-file
// entries folded into Fingerprint. xxhash trades cryptographic strength for
// speed, which is appropriate here: the outer SHA-256 over all file digests
// is what gives the fingerprint its collision resistance guarantee.
func HashFile(path string) (string, error) {
	file, err := os.Open(path) //nolint:gosec // path is caller-resolved from declared task inputs
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to open input file"), "path", path)
	}
	defer file.Close() //nolint:errcheck

	digest := xxhash.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to hash input file"), "path", path)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
