package fs_test

import (
	"io/fs"
	"testing"

	ifs "github.com/packbuild/packctl/internal/fs"
	"github.com/packbuild/packctl/internal/util"
)

func testFS() fs.FS {
	return util.MapFS(map[string]string{
		"src/index.ts":  "export {}\n",
		"src/utils.ts":  "export {}\n",
		"dist/main.js":  "bundled\n",
		"tools/cli.mjs": "#!/usr/bin/env node\n",
	})
}

func TestFilterFSExclude(t *testing.T) {
	f, err := ifs.NewFilterFS(testFS(), nil, []string{"dist", "dist/**"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := fs.Stat(f, "src/index.ts"); err != nil {
		t.Fatalf("expected src/index.ts to be visible: %v", err)
	}
	if _, err := fs.Stat(f, "dist/main.js"); err == nil {
		t.Fatal("expected dist/main.js to be hidden")
	}
	if _, err := f.Open("dist/main.js"); err == nil {
		t.Fatal("expected open of dist/main.js to fail")
	}
}

func TestFilterFSInclude(t *testing.T) {
	f, err := ifs.NewFilterFS(testFS(), []string{"src/**"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := fs.Stat(f, "src/utils.ts"); err != nil {
		t.Fatalf("expected src/utils.ts to be visible: %v", err)
	}
	if _, err := fs.Stat(f, "tools/cli.mjs"); err == nil {
		t.Fatal("expected tools/cli.mjs to be hidden")
	}
	// Directories stay traversable regardless of the include set.
	if _, err := fs.Stat(f, "tools"); err != nil {
		t.Fatalf("expected the tools directory to remain traversable: %v", err)
	}
}

func TestFilterFSReadDir(t *testing.T) {
	f, err := ifs.NewFilterFS(testFS(), nil, []string{"src/utils.ts"})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := f.ReadDir("src")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "index.ts" {
		t.Fatalf("expected only index.ts, got %v", entries)
	}
}

func TestFilterFSBadPattern(t *testing.T) {
	if _, err := ifs.NewFilterFS(testFS(), []string{"["}, nil); err == nil {
		t.Fatal("expected an error for an invalid glob")
	}
}

func TestFSContainsFiles(t *testing.T) {
	hasFiles, err := ifs.FSContainsFiles(testFS())
	if err != nil {
		t.Fatal(err)
	}
	if !hasFiles {
		t.Fatal("expected files to be found")
	}

	hasFiles, err = ifs.FSContainsFiles(util.MapFS(nil))
	if err != nil {
		t.Fatal(err)
	}
	if hasFiles {
		t.Fatal("expected an empty filesystem to contain no files")
	}
}
