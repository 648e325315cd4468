// Package plan combines resolved entry points and classified bins into the
// set of build targets handed to the external build tool.
package plan

import (
	"cmp"
	"encoding/json"
	"fmt"
	"path"
	"slices"

	"github.com/packbuild/packctl/internal/bins"
	"github.com/packbuild/packctl/internal/exports"
)

const (
	// PublishDir receives the output that ships inside the package.
	PublishDir = "dist"
	// DevDir receives executables meant to run from the checked-out
	// repository.
	DevDir = "dist-dev"

	// nodeShebang is the interpreter-directive banner re-attached to
	// development executables.
	nodeShebang = "#!/usr/bin/env node"
)

type Mode string

const (
	ModeDev     Mode = "dev"
	ModePublish Mode = "publish"
)

// Target is one external-build-tool invocation: a set of named inputs
// bundled into one output directory with a single format and banner.
type Target struct {
	Inputs         map[string]string // output name -> source path
	OutDir         string
	Format         bins.Format
	Mode           Mode
	Executable     bool
	Banner         string
	VirtualModules map[string]string // synthetic module path -> source text
}

type Builder struct {
	pkgDir      string
	entryPoints []exports.EntryPoint
	binEntries  []bins.EntryPoint
	formats     []bins.Format
}

func New() *Builder {
	return &Builder{formats: []bins.Format{bins.FormatESM}}
}

func (b *Builder) WithPackageDir(dir string) *Builder {
	b.pkgDir = dir
	return b
}

func (b *Builder) WithEntryPoints(eps []exports.EntryPoint) *Builder {
	b.entryPoints = eps
	return b
}

func (b *Builder) WithBins(entries []bins.EntryPoint) *Builder {
	b.binEntries = entries
	return b
}

// WithFormats sets the module-format policy for the package's entry points.
func (b *Builder) WithFormats(formats []bins.Format) *Builder {
	if len(formats) > 0 {
		b.formats = formats
	}
	return b
}

// Build assembles the target list. Nothing here is fatal: absent bins or
// entry points simply produce an empty plan for that category.
func (b *Builder) Build() []Target {
	acc := newTargetSet()

	for _, format := range b.formats {
		for _, ep := range b.entryPoints {
			acc.add(format, PublishDir, ModePublish, "", false, ep.ChunkName, ep.SourcePath, nil)
		}
	}

	for _, bin := range b.binEntries {
		switch {
		case bin.Format == bins.FormatCJS:
			// One self-contained executable per bin, in both modes. The
			// development copy carries the re-attached banner.
			acc.add(bins.FormatCJS, path.Join(DevDir, "bin"), ModeDev, nodeShebang, true, bin.BinName, bin.SourceFilePath, nil)
			acc.add(bins.FormatCJS, path.Join(PublishDir, "bin"), ModePublish, "", true, bin.BinName, bin.SourceFilePath, nil)

		case bin.Type == bins.Dependency:
			// A thin mirror of the dependency's executable, never a fresh
			// bundle.
			vpath := virtualMirrorPath(bin.BinName)
			acc.add(bins.FormatESM, path.Join(PublishDir, "bin"), ModePublish, "", true, bin.BinName, vpath, map[string]string{
				vpath: mirrorModule(bin.SourceFilePath),
			})

		default:
			// Development execution is re-routed through a virtual module
			// to the installed binary, so the bin behaves identically
			// whether the surrounding package has been bundled yet or not.
			vpath := virtualDevPath(bin.BinName)
			acc.add(bins.FormatESM, path.Join(DevDir, "bin"), ModeDev, nodeShebang, true, bin.BinName, vpath, map[string]string{
				vpath: devRerouteModule(bin.BinName),
			})
			acc.add(bins.FormatESM, path.Join(PublishDir, "bin"), ModePublish, "", true, bin.BinName, bin.SourceFilePath, nil)
		}
	}

	return acc.targets()
}

// AssignOutputs fills each entry point's output path with the bundled
// location used by the publish manifest, honoring the format policy: the
// manifest points at the ESM bundle when the policy produces one, and at
// the .cjs output under a cjs-only policy.
func AssignOutputs(eps []exports.EntryPoint, formats []bins.Format) []exports.EntryPoint {
	format := manifestFormat(formats)

	out := make([]exports.EntryPoint, len(eps))
	for i, ep := range eps {
		ep.OutputPath = OutputFile(PublishDir, ep.ChunkName, format)
		out[i] = ep
	}
	return out
}

func manifestFormat(formats []bins.Format) bins.Format {
	for _, f := range formats {
		if f == bins.FormatESM {
			return bins.FormatESM
		}
	}
	if len(formats) > 0 {
		return formats[0]
	}
	return bins.FormatESM
}

// OutputFile is the bundled location of a named input within outDir.
func OutputFile(outDir, name string, format bins.Format) string {
	ext := ".js"
	if format == bins.FormatCJS {
		ext = ".cjs"
	}
	return "./" + path.Join(outDir, name+ext)
}

// BinOutputFile is the bundled location of a bin's published executable.
func BinOutputFile(bin bins.EntryPoint) string {
	return OutputFile(path.Join(PublishDir, "bin"), bin.BinName, bin.Format)
}

// targetSet merges additions sharing format, output directory, mode and
// banner into one build-tool invocation, maximizing deduplication across
// bins and entry points. Distinct banners keep their targets separate.
type targetSet struct {
	index map[targetKey]*Target
	order []targetKey
}

type targetKey struct {
	format bins.Format
	outDir string
	mode   Mode
	banner string
}

func newTargetSet() *targetSet {
	return &targetSet{index: make(map[targetKey]*Target)}
}

func (s *targetSet) add(format bins.Format, outDir string, mode Mode, banner string, executable bool, name, src string, virtual map[string]string) {
	key := targetKey{format: format, outDir: outDir, mode: mode, banner: banner}
	t, ok := s.index[key]
	if !ok {
		t = &Target{
			Inputs:         make(map[string]string),
			OutDir:         outDir,
			Format:         format,
			Mode:           mode,
			Banner:         banner,
			VirtualModules: make(map[string]string),
		}
		s.index[key] = t
		s.order = append(s.order, key)
	}
	t.Inputs[name] = src
	t.Executable = t.Executable || executable
	for p, source := range virtual {
		t.VirtualModules[p] = source
	}
}

func (s *targetSet) targets() []Target {
	keys := slices.SortedFunc(slices.Values(s.order), func(a, b targetKey) int {
		if x := cmp.Compare(a.mode, b.mode); x != 0 {
			return x
		}
		if x := cmp.Compare(a.outDir, b.outDir); x != 0 {
			return x
		}
		if x := cmp.Compare(a.format, b.format); x != 0 {
			return x
		}
		return cmp.Compare(a.banner, b.banner)
	})

	out := make([]Target, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.index[k])
	}
	return out
}

func virtualDevPath(name string) string {
	return path.Join("virtual", "dev-bin", name+".mjs")
}

func virtualMirrorPath(name string) string {
	return path.Join("virtual", "mirror", name+".mjs")
}

// devRerouteModule generates the synthetic source that forwards a
// development invocation to the binary installed in the local dependency
// tree.
func devRerouteModule(name string) string {
	quoted, _ := json.Marshal(name)
	return fmt.Sprintf(`// Code generated by packctl. DO NOT EDIT.
import { spawnSync } from "node:child_process";
import { fileURLToPath } from "node:url";
import path from "node:path";

const pkg = path.dirname(fileURLToPath(import.meta.url));
const target = path.join(pkg, "node_modules", ".bin", %s);
const result = spawnSync(target, process.argv.slice(2), { stdio: "inherit" });
process.exit(result.status ?? 1);
`, quoted)
}

// mirrorModule generates the synthetic source that re-exports another
// installed package's executable.
func mirrorModule(sourcePath string) string {
	quoted, _ := json.Marshal("./" + sourcePath)
	return fmt.Sprintf(`// Code generated by packctl. DO NOT EDIT.
import %s;
`, quoted)
}
