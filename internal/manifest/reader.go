package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/packbuild/packctl/internal/logging"
)

// Reader loads package manifests and memoizes them per directory for the
// lifetime of the Reader. Concurrent readers of the same directory await a
// single in-flight load instead of duplicating filesystem work. The tool
// assumes manifests are not mutated underneath a running build.
type Reader struct {
	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*PackageManifest
	log   *logging.Logger
}

func NewReader(log *logging.Logger) *Reader {
	return &Reader{
		cache: make(map[string]*PackageManifest),
		log:   log,
	}
}

// Read returns the manifest of the package rooted at dir.
func (r *Reader) Read(ctx context.Context, dir string) (*PackageManifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := filepath.Clean(dir)

	r.mu.Lock()
	m, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return m, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		path := filepath.Join(key, Filename)
		bs, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		m, err := Parse(bs)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %w", path, err)
		}

		r.log.Debugf("loaded manifest %s (%s@%s)", path, m.Name, m.Version)

		r.mu.Lock()
		r.cache[key] = m
		r.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PackageManifest), nil
}
