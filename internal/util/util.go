package util

import (
	"io/fs"
	"testing/fstest"
)

// MapFS builds an in-memory fs.FS from path to file content. Virtual modules
// and test fixtures use it.
func MapFS(m map[string]string) fs.FS {
	m0 := make(map[string]*fstest.MapFile, len(m))
	for p, f := range m {
		m0[p] = &fstest.MapFile{Data: []byte(f)}
	}
	return fstest.MapFS(m0)
}

// FastEqual short-circuits pointer equality checks: identical or nil
// pointers resolve without invoking slowEqual.
func FastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
