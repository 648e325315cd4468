package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/packbuild/packctl/internal/bins"
	"github.com/packbuild/packctl/internal/builder"
	ifs "github.com/packbuild/packctl/internal/fs"
	"github.com/packbuild/packctl/internal/logging"
	"github.com/packbuild/packctl/internal/manifest"
	"github.com/packbuild/packctl/internal/metrics"
	"github.com/packbuild/packctl/internal/plan"
	"github.com/packbuild/packctl/internal/progress"
	"github.com/packbuild/packctl/internal/publish"
)

type BuildState string

const (
	BuildStateSuccess       BuildState = "success"
	BuildStateManifestError BuildState = "manifest_error"
	BuildStateResolveFailed BuildState = "resolve_failed"
	BuildStateBuildFailed   BuildState = "build_failed"
	BuildStatePublishFailed BuildState = "publish_failed"
)

type Status struct {
	State   BuildState
	Message string
}

// PackageWorker builds one package: it resolves the manifest into entry
// points and bins, compiles the bundle plan, drives the external build tool
// and writes the publish manifest. Workers are single-shot; they retire
// from the pool by returning the zero deadline.
type PackageWorker struct {
	pkgDir     string
	formats    []bins.Format
	conditions []string
	reader     *manifest.Reader
	runner     builder.Runner
	dryRun     bool
	log        *logging.Logger
	bar        *progress.Bar
	status     Status
	err        error
	done       chan struct{}
}

func NewPackageWorker(pkgDir string, reader *manifest.Reader, runner builder.Runner, log *logging.Logger, bar *progress.Bar) *PackageWorker {
	return &PackageWorker{
		pkgDir: pkgDir,
		reader: reader,
		runner: runner,
		log:    log,
		bar:    bar,
		done:   make(chan struct{}),
	}
}

func (w *PackageWorker) WithFormats(formats []bins.Format) *PackageWorker {
	w.formats = formats
	return w
}

func (w *PackageWorker) WithConditions(conditions []string) *PackageWorker {
	w.conditions = conditions
	return w
}

func (w *PackageWorker) WithDryRun(dryRun bool) *PackageWorker {
	w.dryRun = dryRun
	return w
}

// Err returns the fatal error of the run, if any. Valid after done is
// closed.
func (w *PackageWorker) Err() error {
	return w.err
}

// Execute runs one build iteration for the package.
func (w *PackageWorker) Execute(ctx context.Context) time.Time {
	startTime := time.Now()

	defer w.bar.Add(1)

	if err := w.build(ctx); err != nil {
		w.err = fmt.Errorf("package %s: %w", w.pkgDir, err)
		w.log.Errorf("failed to build package %s: %v", w.pkgDir, err)
		metrics.PackageBuildFailed(w.pkgDir, string(w.status.State))
		return w.die()
	}

	w.status.State = BuildStateSuccess
	metrics.PackageBuildSucceeded(w.pkgDir, startTime)
	return w.die()
}

func (w *PackageWorker) build(ctx context.Context) error {
	result, err := compute(ctx, w.reader, w.pkgDir, w.formats, w.conditions, w.log)
	if err != nil {
		w.status = Status{State: stateFor(err), Message: err.Error()}
		return err
	}

	if w.dryRun {
		w.log.Infof("dry run: %d target(s) for %s, nothing written", len(result.Targets), result.Manifest.Name)
		return nil
	}

	for _, target := range result.Targets {
		if err := w.runner.Run(ctx, target); err != nil {
			w.status = Status{State: BuildStateBuildFailed, Message: err.Error()}
			return err
		}
	}

	for _, target := range result.Targets {
		if !target.Executable {
			continue
		}
		if err := w.markExecutable(filepath.Join(w.pkgDir, filepath.FromSlash(target.OutDir))); err != nil {
			w.status = Status{State: BuildStateBuildFailed, Message: err.Error()}
			return err
		}
	}

	if err := w.writePublishManifest(result); err != nil {
		w.status = Status{State: BuildStatePublishFailed, Message: err.Error()}
		return err
	}

	w.log.Debugf("package %s built and publish manifest written", result.Manifest.Name)
	return nil
}

// markExecutable sets the executable bit on every output file inside a bin
// output directory.
func (w *PackageWorker) markExecutable(dir string) error {
	hasFiles, err := ifs.FSContainsFiles(os.DirFS(dir))
	if err != nil {
		return err
	}
	if !hasFiles {
		w.log.Debugf("bin output directory %s is empty, nothing to mark executable", dir)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Chmod(filepath.Join(dir, e.Name()), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (w *PackageWorker) writePublishManifest(result *Result) error {
	outDir := filepath.Join(w.pkgDir, plan.PublishDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	if original, err := os.ReadFile(filepath.Join(w.pkgDir, manifest.Filename)); err == nil {
		if rendered, err := result.Publish.Render(); err == nil {
			w.log.Debugf("publish manifest delta for %s:\n%s", result.Manifest.Name, publish.Diff(original, rendered))
		}
	}

	return result.Publish.WriteFile(filepath.Join(outDir, manifest.Filename))
}

func stateFor(err error) BuildState {
	var missing *manifest.MissingFieldError
	var badType *manifest.ModuleTypeError
	if errors.As(err, &missing) || errors.As(err, &badType) {
		return BuildStateManifestError
	}
	return BuildStateResolveFailed
}

func (w *PackageWorker) die() time.Time {
	close(w.done)

	var zero time.Time
	return zero
}
