// Package tempfs materializes file trees in temporary directories for
// tests.
package tempfs

import (
	"os"
	"path/filepath"
	"testing"
)

// WithTempFS writes the given files into a fresh temporary directory and
// invokes f with its path. Keys are slash-separated paths relative to the
// root; intermediate directories are created as needed.
func WithTempFS(t *testing.T, files map[string]string, f func(t *testing.T, root string)) {
	t.Helper()

	root := t.TempDir()
	for path, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	f(t, root)
}
