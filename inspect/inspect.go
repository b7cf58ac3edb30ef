// Package inspect computes digests of container files and compares containers with their sources.
package inspect

import (
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/outofforest/packfs"
	"github.com/outofforest/packfs/tree"
	"github.com/outofforest/packfs/types"
)

// Algorithm is the hash function used to compute digests.
type Algorithm string

// Algorithms.
const (
	XXHash Algorithm = "xxhash"
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm parses the name of the algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case XXHash, BLAKE3:
		return a, nil
	default:
		return "", errors.Errorf("unknown hash algorithm %q", s)
	}
}

func (a Algorithm) newHash() hash.Hash {
	if a == BLAKE3 {
		return blake3.New()
	}
	return xxhash.New()
}

// Sum returns the hex-encoded digest of data.
func (a Algorithm) Sum(data []byte) string {
	h := a.newHash()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Option configures the inspection.
type Option func(c *config)

type config struct {
	algorithm Algorithm
}

// WithAlgorithm sets the hash algorithm.
func WithAlgorithm(a Algorithm) Option {
	return func(c *config) {
		c.algorithm = a
	}
}

func newConfig(opts []Option) config {
	cfg := config{algorithm: XXHash}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// FileDigest is the digest of one file.
type FileDigest struct {
	Path string
	Size uint64
	Sum  string
}

// Report is the result of comparison between container and source tree.
type Report struct {
	// Missing contains files present in the source but not in the container.
	Missing []string

	// Extra contains files present in the container but not in the source.
	Extra []string

	// Different contains files with different content.
	Different []string
}

// Equal returns true if no difference was found.
func (r Report) Equal() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.Different) == 0
}

// Digest computes digests of all the files in the container, sorted by path.
// Files are read through handles by the pool of workers.
func Digest(c packfs.Container, workers int, opts ...Option) ([]FileDigest, error) {
	cfg := newConfig(opts)

	var files []*tree.Node
	if err := c.Tree().Walk(func(n *tree.Node) error {
		if !n.IsDir() {
			files = append(files, n)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	digests := make([]FileDigest, len(files))
	err := run(workers, len(files), func(i int) error {
		n := files[i]
		h, err := c.OpenFile(n, types.ReadOnly)
		if err != nil {
			return err
		}
		defer h.Close()

		sum, size, err := hashReader(cfg.algorithm, h)
		if err != nil {
			return errors.Wrapf(err, "reading %q", c.Tree().Path(n))
		}
		digests[i] = FileDigest{Path: c.Tree().Path(n), Size: size, Sum: sum}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortDigests(digests)
	return digests, nil
}

// DigestFS computes digests of all the files in the directory root of fsys, sorted by path.
// Empty directories are reported as empty files because that is how containers store them.
func DigestFS(fsys fs.FS, root string, workers int, opts ...Option) ([]FileDigest, error) {
	cfg := newConfig(opts)

	var paths []string
	var empty []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		switch {
		case d.IsDir():
			entries, err := fs.ReadDir(fsys, p)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				empty = append(empty, p)
			}
		case d.Type().IsRegular():
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	digests := make([]FileDigest, len(paths), len(paths)+len(empty))
	err = run(workers, len(paths), func(i int) error {
		f, err := fsys.Open(paths[i])
		if err != nil {
			return errors.WithStack(err)
		}
		defer f.Close()

		sum, size, err := hashReader(cfg.algorithm, f)
		if err != nil {
			return errors.Wrapf(err, "reading %q", paths[i])
		}
		digests[i] = FileDigest{Path: relative(root, paths[i]), Size: size, Sum: sum}
		return nil
	})
	if err != nil {
		return nil, err
	}

	emptySum := cfg.algorithm.Sum(nil)
	for _, p := range empty {
		digests = append(digests, FileDigest{Path: relative(root, p), Sum: emptySum})
	}

	sortDigests(digests)
	return digests, nil
}

// Compare compares the content of the container with the directory root of fsys.
func Compare(c packfs.Container, fsys fs.FS, root string, workers int, opts ...Option) (Report, error) {
	containerDigests, err := Digest(c, workers, opts...)
	if err != nil {
		return Report{}, err
	}
	sourceDigests, err := DigestFS(fsys, root, workers, opts...)
	if err != nil {
		return Report{}, err
	}

	var report Report
	i, j := 0, 0
	for i < len(sourceDigests) || j < len(containerDigests) {
		switch {
		case j == len(containerDigests) ||
			(i < len(sourceDigests) && sourceDigests[i].Path < containerDigests[j].Path):
			report.Missing = append(report.Missing, sourceDigests[i].Path)
			i++
		case i == len(sourceDigests) || containerDigests[j].Path < sourceDigests[i].Path:
			report.Extra = append(report.Extra, containerDigests[j].Path)
			j++
		default:
			if sourceDigests[i] != containerDigests[j] {
				report.Different = append(report.Different, sourceDigests[i].Path)
			}
			i++
			j++
		}
	}
	return report, nil
}

func hashReader(a Algorithm, r io.Reader) (string, uint64, error) {
	h := a.newHash()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, errors.WithStack(err)
	}
	return hex.EncodeToString(h.Sum(nil)), uint64(n), nil
}

func run(workers, n int, task func(i int) error) error {
	if workers < 1 {
		return errors.Wrapf(types.ErrOutOfRange, "number of workers must be positive, provided: %d", workers)
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return errors.WithStack(err)
	}
	defer pool.Release()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for i := range n {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := task(i); err != nil {
				setErr(err)
			}
		}); err != nil {
			wg.Done()
			setErr(errors.WithStack(err))
			break
		}
	}
	wg.Wait()

	return firstErr
}

func relative(root, p string) string {
	if root == "." {
		return p
	}
	return strings.TrimPrefix(p, path.Clean(root)+"/")
}

func sortDigests(digests []FileDigest) {
	slices.SortFunc(digests, func(a, b FileDigest) int {
		return strings.Compare(a.Path, b.Path)
	})
}
