// Package builder is the boundary to the external build tool. The tool is
// treated as a black box: it receives named inputs, virtual modules and an
// output target, and reports success or failure.
package builder

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/yalue/merged_fs"

	"github.com/packbuild/packctl/internal/bins"
	ifs "github.com/packbuild/packctl/internal/fs"
	"github.com/packbuild/packctl/internal/logging"
	"github.com/packbuild/packctl/internal/plan"
	"github.com/packbuild/packctl/internal/util"
)

// Runner executes one build target.
type Runner interface {
	Run(ctx context.Context, target plan.Target) error
}

// ExecRunner invokes a bundler binary (esbuild-compatible flags) through
// the process spawner. Virtual modules are materialized into a scratch
// directory for the duration of the invocation.
type ExecRunner struct {
	bundler string
	pkgDir  string
	log     *logging.Logger
}

func NewExecRunner(bundler, pkgDir string, log *logging.Logger) *ExecRunner {
	return &ExecRunner{bundler: bundler, pkgDir: pkgDir, log: log}
}

func (r *ExecRunner) Run(ctx context.Context, target plan.Target) error {
	if len(target.Inputs) == 0 {
		return nil
	}

	if err := r.preflight(target); err != nil {
		return err
	}

	inputs, cleanup, err := r.materializeVirtual(target)
	if err != nil {
		return err
	}
	defer cleanup()

	args := bundlerArgs(target, inputs)
	r.log.Debugf("spawning %s %s", r.bundler, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, r.bundler, args...)
	cmd.Dir = r.pkgDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("build tool failed for %s (%s): %w\n%s", target.OutDir, target.Format, err, out)
	}
	return nil
}

// preflight stats every input through a composed view of the package tree
// and the target's virtual modules, so missing sources fail with a named
// diagnostic instead of a bundler stack trace.
func (r *ExecRunner) preflight(target plan.Target) error {
	src, err := ifs.NewFilterFS(os.DirFS(r.pkgDir), nil, []string{
		plan.PublishDir, plan.PublishDir + "/**",
		plan.DevDir, plan.DevDir + "/**",
	})
	if err != nil {
		return err
	}
	view := merged_fs.NewMergedFS(util.MapFS(target.VirtualModules), src)

	for _, name := range slices.Sorted(maps.Keys(target.Inputs)) {
		input := strings.TrimPrefix(filepath.ToSlash(target.Inputs[name]), "./")
		if _, err := fs.Stat(view, input); err != nil {
			return fmt.Errorf("input %q of target %s: %s does not exist", name, target.OutDir, target.Inputs[name])
		}
	}
	return nil
}

// materializeVirtual writes the target's virtual modules to a scratch
// directory and returns the input map with virtual paths rewritten.
func (r *ExecRunner) materializeVirtual(target plan.Target) (map[string]string, func(), error) {
	inputs := maps.Clone(target.Inputs)
	if len(target.VirtualModules) == 0 {
		return inputs, func() {}, nil
	}

	scratch, err := os.MkdirTemp("", "packctl-virtual-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(scratch) }

	rewrite := make(map[string]string, len(target.VirtualModules))
	for vpath, source := range target.VirtualModules {
		real := filepath.Join(scratch, filepath.FromSlash(vpath))
		if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := os.WriteFile(real, []byte(source), 0o644); err != nil {
			cleanup()
			return nil, nil, err
		}
		rewrite[vpath] = real
	}

	for name, src := range inputs {
		if real, ok := rewrite[filepath.ToSlash(src)]; ok {
			inputs[name] = real
		}
	}
	return inputs, cleanup, nil
}

// FakeRunner records the targets it was asked to build. Test double.
type FakeRunner struct {
	mu      sync.Mutex
	Err     error
	Targets []plan.Target
}

func (r *FakeRunner) Run(_ context.Context, target plan.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}
	r.Targets = append(r.Targets, target)
	return nil
}

// bundlerArgs renders one invocation of the external build tool. Entries
// are named so output files match the plan's chunk and bin names.
func bundlerArgs(target plan.Target, inputs map[string]string) []string {
	args := make([]string, 0, len(inputs)+6)
	for _, name := range slices.Sorted(maps.Keys(inputs)) {
		args = append(args, name+"="+inputs[name])
	}
	args = append(args,
		"--bundle",
		"--platform=node",
		"--format="+string(target.Format),
		"--outdir="+target.OutDir,
	)
	if target.Format == bins.FormatCJS {
		args = append(args, "--out-extension:.js=.cjs")
	}
	if target.Banner != "" {
		args = append(args, "--banner:js="+target.Banner)
	}
	return args
}
