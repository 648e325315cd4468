// Package bins inspects a manifest's bin declarations and classifies each
// command-line executable. Individual bad entries never abort a build; they
// degrade into the ignored set with a warning.
package bins

import (
	"bufio"
	"context"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/packbuild/packctl/internal/logging"
	"github.com/packbuild/packctl/internal/manifest"
)

type Format string

const (
	FormatCJS Format = "cjs"
	FormatESM Format = "esm"
)

type Type string

const (
	// TypeScriptShebang is a bin authored as ordinary TypeScript source
	// directly under the package's own bin-source directory. The common
	// case for a package defining its own CLI.
	TypeScriptShebang Type = "typescript-shebang-bin"
	// Dependency is a bin that mirrors a different installed package's
	// executable instead of defining new code.
	Dependency Type = "dependency-bin"
	// Standard covers everything else.
	Standard Type = "standard-bin"
)

// binSourceDir is the directory (relative to the package) whose TypeScript
// files classify as typescript-shebang bins.
var binSourceDir = filepath.Join("src", "bin")

// EntryPoint is one valid, buildable bin declaration.
type EntryPoint struct {
	BinName        string
	SourceFilePath string // relative to the package directory
	Format         Format
	Type           Type
}

// Classification partitions a bin declaration into buildable entry points
// and ignored entries. Ignored entries keep their declared source path so
// the publish manifest can carry them verbatim.
type Classification struct {
	EntryPoints []EntryPoint
	Ignored     map[string]string
}

type Classifier struct {
	reader *manifest.Reader
	log    *logging.Logger
}

func NewClassifier(reader *manifest.Reader, log *logging.Logger) *Classifier {
	return &Classifier{reader: reader, log: log}
}

// Classify inspects every declared bin. It never fails: invalid entries are
// downgraded to ignored with a warning.
func (c *Classifier) Classify(ctx context.Context, decl map[string]string, pkgDir string) *Classification {
	cls := &Classification{Ignored: make(map[string]string)}

	for _, name := range slices.Sorted(maps.Keys(decl)) {
		declared := decl[name]
		src := filepath.Join(pkgDir, declared)

		if _, err := os.Stat(src); err != nil {
			c.log.Warnf("ignoring bin %q: source file %s does not exist", name, declared)
			cls.Ignored[name] = declared
			continue
		}

		ok, err := hasInterpreterDirective(src)
		if err != nil {
			c.log.Warnf("ignoring bin %q: reading %s: %v", name, declared, err)
			cls.Ignored[name] = declared
			continue
		}
		if !ok {
			// The directive is required so the same file can be executed
			// directly during development without a compile step.
			c.log.Warnf("ignoring bin %q: %s has no interpreter directive on its first line", name, declared)
			cls.Ignored[name] = declared
			continue
		}

		ep := EntryPoint{
			BinName:        name,
			SourceFilePath: filepath.ToSlash(filepath.Clean(declared)),
			Format:         formatForFile(declared),
		}

		switch {
		case isDependencyBin(declared):
			resolved, ok := c.resolveDependencyBin(ctx, name, declared, pkgDir)
			if !ok {
				cls.Ignored[name] = declared
				continue
			}
			ep.Type = Dependency
			ep.SourceFilePath = resolved
		case isTypeScriptShebangBin(pkgDir, src):
			ep.Type = TypeScriptShebang
		default:
			ep.Type = Standard
		}

		cls.EntryPoints = append(cls.EntryPoints, ep)
	}

	return cls
}

// hasInterpreterDirective reports whether the file's first line is a
// shebang.
func hasInterpreterDirective(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return false, scanner.Err()
	}
	return strings.HasPrefix(scanner.Text(), "#!"), nil
}

// formatForFile maps the extension convention onto the output module
// format: the .c* family is CommonJS, everything else is ESM.
func formatForFile(path string) Format {
	switch filepath.Ext(path) {
	case ".cjs", ".cts":
		return FormatCJS
	default:
		return FormatESM
	}
}

func isTypeScriptShebangBin(pkgDir, src string) bool {
	if filepath.Dir(src) != filepath.Join(pkgDir, binSourceDir) {
		return false
	}
	switch filepath.Ext(src) {
	case ".ts", ".mts", ".cts", ".tsx":
		return true
	}
	return false
}

func isDependencyBin(declared string) bool {
	return slices.Contains(strings.Split(filepath.ToSlash(declared), "/"), "node_modules")
}

// resolveDependencyBin walks the mirrored dependency's own manifest bin
// field to find the real executable. The declared path only identifies the
// dependency; the dependency decides where its bin lives.
func (c *Classifier) resolveDependencyBin(ctx context.Context, name, declared, pkgDir string) (string, bool) {
	dep, ok := dependencyName(declared)
	if !ok {
		c.log.Warnf("ignoring bin %q: cannot derive a dependency name from %s", name, declared)
		return "", false
	}

	depDir := filepath.Join(pkgDir, "node_modules", filepath.FromSlash(dep))
	m, err := c.reader.Read(ctx, depDir)
	if err != nil {
		c.log.Warnf("ignoring bin %q: dependency %q has no readable manifest: %v", name, dep, err)
		return "", false
	}

	target, ok := m.Bin[name]
	if !ok {
		// Fall back to the dependency's sole bin when names differ.
		if len(m.Bin) != 1 {
			c.log.Warnf("ignoring bin %q: dependency %q does not declare it", name, dep)
			return "", false
		}
		for _, target = range m.Bin {
		}
	}

	resolved := filepath.ToSlash(filepath.Join("node_modules", filepath.FromSlash(dep), filepath.FromSlash(target)))
	return resolved, true
}

// dependencyName extracts the package name following the last node_modules
// segment, honoring scoped names.
func dependencyName(declared string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(declared), "/")
	i := lastIndex(parts, "node_modules")
	if i < 0 || i+1 >= len(parts) {
		return "", false
	}
	name := parts[i+1]
	if strings.HasPrefix(name, "@") {
		if i+2 >= len(parts) {
			return "", false
		}
		name = name + "/" + parts[i+2]
	}
	return name, true
}

func lastIndex(parts []string, want string) int {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] == want {
			return i
		}
	}
	return -1
}
