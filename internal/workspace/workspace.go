// Package workspace locates the repository root governing a package and
// determines whether it hosts one package or a whole workspace.
package workspace

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
	"golang.org/x/sync/singleflight"

	"github.com/packbuild/packctl/internal/logging"
	"github.com/packbuild/packctl/internal/manifest"
)

type Kind string

const (
	SinglePackage    Kind = "single-package"
	MultiplePackages Kind = "multiple-packages"
)

// Root describes the workspace governing a package directory.
type Root struct {
	Path             string
	Kind             Kind
	PackageGlobs     []string
	PackageLocations []string
}

// rootMarkers are probed in every candidate directory. Any hit makes the
// directory a root.
var rootMarkers = []string{
	".git",
	".hg",
	".svn",
	"package-lock.json",
	"npm-shrinkwrap.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"bun.lock",
	"bun.lockb",
}

// workspaceFilename declares workspace package globs outside the manifest.
const workspaceFilename = "pnpm-workspace.yaml"

// Locator finds workspace roots. Results are memoized per start directory
// for the lifetime of the Locator; concurrent callers share one in-flight
// computation.
type Locator struct {
	group  singleflight.Group
	mu     sync.Mutex
	cache  map[string]*Root
	reader *manifest.Reader
	log    *logging.Logger
}

func NewLocator(reader *manifest.Reader, log *logging.Logger) *Locator {
	return &Locator{
		cache:  make(map[string]*Root),
		reader: reader,
		log:    log,
	}
}

// Locate returns the workspace root for startDir. It degrades to startDir
// itself when no marker exists anywhere in the search space; the only error
// cause is context cancellation.
func (l *Locator) Locate(ctx context.Context, startDir string) (*Root, error) {
	key, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	root, ok := l.cache[key]
	l.mu.Unlock()
	if ok {
		return root, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		root, err := l.locate(ctx, key)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.cache[key] = root
		l.mu.Unlock()
		return root, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Root), nil
}

func (l *Locator) locate(ctx context.Context, start string) (*Root, error) {
	path := l.findRootPath(ctx, start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	globs := l.probeGlobs(ctx, path)
	if len(globs) == 0 {
		return &Root{Path: path, Kind: SinglePackage}, nil
	}

	locations := l.expandGlobs(path, globs)
	return &Root{
		Path:             path,
		Kind:             MultiplePackages,
		PackageGlobs:     globs,
		PackageLocations: locations,
	}, nil
}

// findRootPath races marker probes over the candidate directory lists.
// All probes start concurrently, but results combine with strict priority:
// list i may only decide the answer once lists 0..i-1 are known to have
// missed. A probe deep inside node_modules finishing first must not win
// over the start directory itself.
func (l *Locator) findRootPath(_ context.Context, start string) string {
	lists := candidateLists(start)

	results := make([]chan string, len(lists))
	for i, list := range lists {
		ch := make(chan string, 1)
		results[i] = ch
		go func(dirs []string) {
			ch <- probeMarkers(dirs)
		}(list)
	}

	// Probes are never cancelled; lower-priority results are simply
	// discarded once an earlier list has a hit.
	for _, ch := range results {
		if dir := <-ch; dir != "" {
			return dir
		}
	}

	l.log.Debugf("no root marker found above %s, falling back to the start directory", start)
	return start
}

// candidateLists orders the directories to probe by likelihood: the start
// directory, the ancestors preceding a packages/ or node_modules/ segment,
// the parent and the grandparent.
func candidateLists(start string) [][]string {
	return [][]string{
		{start},
		segmentAncestors(start),
		{filepath.Dir(start)},
		{filepath.Dir(filepath.Dir(start))},
	}
}

// segmentAncestors returns the ancestors whose path component immediately
// precedes a "packages" or "node_modules" segment, nearest first. When
// neither segment appears it falls back to the full path.
func segmentAncestors(start string) []string {
	parts := strings.Split(start, string(filepath.Separator))

	var dirs []string
	for i := len(parts) - 1; i > 0; i-- {
		if parts[i] == "packages" || parts[i] == "node_modules" {
			dirs = append(dirs, strings.Join(parts[:i], string(filepath.Separator)))
		}
	}
	if len(dirs) == 0 {
		return []string{start}
	}
	return dirs
}

// probeMarkers returns the first directory in the list containing any root
// marker, or "" if none do.
func probeMarkers(dirs []string) string {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
	}
	return ""
}

// probeGlobs checks the workspace file and the root manifest's workspaces
// field in parallel. These probes share no data, so they race freely and
// the first defined result wins.
func (l *Locator) probeGlobs(ctx context.Context, root string) []string {
	ch := make(chan []string, 2)

	go func() { ch <- globsFromWorkspaceFile(root) }()
	go func() { ch <- l.globsFromManifest(ctx, root) }()

	for range 2 {
		if globs := <-ch; len(globs) > 0 {
			return globs
		}
	}
	return nil
}

func globsFromWorkspaceFile(root string) []string {
	bs, err := os.ReadFile(filepath.Join(root, workspaceFilename))
	if err != nil {
		return nil
	}
	var decl struct {
		Packages []string `yaml:"packages"`
	}
	if err := yaml.Unmarshal(bs, &decl); err != nil {
		return nil
	}
	return decl.Packages
}

func (l *Locator) globsFromManifest(ctx context.Context, root string) []string {
	m, err := l.reader.Read(ctx, root)
	if err != nil {
		l.log.Debugf("no readable manifest at workspace root %s: %v", root, err)
		return nil
	}
	return m.Workspaces
}

// expandGlobs enumerates the package directories matched by the workspace
// globs. A directory counts only if it holds a manifest file. Patterns
// starting with "!" subtract from the match set.
func (l *Locator) expandGlobs(root string, globs []string) []string {
	var include, exclude []glob.Glob
	for _, pattern := range globs {
		negated := strings.HasPrefix(pattern, "!")
		pattern = strings.TrimPrefix(pattern, "!")
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			l.log.Warnf("skipping workspace glob %q: %v", pattern, err)
			continue
		}
		if negated {
			exclude = append(exclude, g)
		} else {
			include = append(include, g)
		}
	}

	var locations []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == "node_modules" || (strings.HasPrefix(name, ".") && path != root) {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !matchesAny(include, rel) || matchesAny(exclude, rel) {
			return nil
		}
		if _, err := os.Stat(filepath.Join(path, manifest.Filename)); err != nil {
			return nil
		}
		locations = append(locations, path)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.log.Warnf("workspace enumeration under %s stopped early: %v", root, err)
	}

	slices.Sort(locations)
	return locations
}

func matchesAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}
