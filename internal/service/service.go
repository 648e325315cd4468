// Package service orchestrates a build run: it locates the workspace,
// fans the packages out over a worker pool and collects the results.
package service

import (
	"context"
	"errors"
	"runtime"

	"github.com/packbuild/packctl/internal/bins"
	"github.com/packbuild/packctl/internal/builder"
	"github.com/packbuild/packctl/internal/exports"
	"github.com/packbuild/packctl/internal/logging"
	"github.com/packbuild/packctl/internal/manifest"
	"github.com/packbuild/packctl/internal/metrics"
	"github.com/packbuild/packctl/internal/plan"
	"github.com/packbuild/packctl/internal/pool"
	"github.com/packbuild/packctl/internal/progress"
	"github.com/packbuild/packctl/internal/publish"
	"github.com/packbuild/packctl/internal/workspace"
)

type Options struct {
	Dir        string
	Bundler    string
	Formats    []bins.Format
	Conditions []string
	Workers    int
	DryRun     bool
	Quiet      bool
	Logger     *logging.Logger
}

type Service struct {
	opts    Options
	log     *logging.Logger
	reader  *manifest.Reader
	locator *workspace.Locator
}

func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}

	reader := manifest.NewReader(log)
	return &Service{
		opts:    opts,
		log:     log,
		reader:  reader,
		locator: workspace.NewLocator(reader, log),
	}
}

// Result is everything the pipeline derives for one package.
type Result struct {
	PackageDir     string
	Manifest       *manifest.PackageManifest
	Resolution     *exports.Resolution
	Classification *bins.Classification
	Targets        []plan.Target
	Publish        *publish.Manifest
}

// Run builds every package governed by the workspace of the configured
// directory. Packages build concurrently; the first-listed error of each
// failing package is joined into the returned error.
func (s *Service) Run(ctx context.Context) error {
	dirs, err := s.packageDirs(ctx)
	if err != nil {
		return err
	}

	var bar *progress.Bar
	if !s.opts.Quiet {
		bar = progress.New(len(dirs), "building")
	}

	workers := make([]*PackageWorker, 0, len(dirs))
	p := pool.New(s.workerCount(len(dirs)))
	for _, dir := range dirs {
		runner := builder.NewExecRunner(s.opts.Bundler, dir, s.log)
		w := NewPackageWorker(dir, s.reader, runner, s.log, bar).
			WithFormats(s.opts.Formats).
			WithConditions(s.opts.Conditions).
			WithDryRun(s.opts.DryRun)
		workers = append(workers, w)
		p.Add(dir, w.Execute)
	}

	var errs []error
	for _, w := range workers {
		select {
		case <-w.done:
			if err := w.Err(); err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	bar.Finish()

	if summary, err := metrics.Gather(); err == nil && summary != "" {
		s.log.Debugf("build metrics:\n%s", summary)
	}
	return errors.Join(errs...)
}

// Plan computes the per-package results without touching the filesystem
// beyond reading manifests.
func (s *Service) Plan(ctx context.Context) ([]*Result, error) {
	dirs, err := s.packageDirs(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(dirs))
	for _, dir := range dirs {
		result, err := compute(ctx, s.reader, dir, s.opts.Formats, s.opts.Conditions, s.log)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Service) packageDirs(ctx context.Context) ([]string, error) {
	root, err := s.locator.Locate(ctx, s.opts.Dir)
	if err != nil {
		return nil, err
	}

	if root.Kind == workspace.SinglePackage {
		s.log.Infof("building single package at %s (root %s)", s.opts.Dir, root.Path)
		return []string{s.opts.Dir}, nil
	}

	s.log.Infof("building %d workspace package(s) under %s", len(root.PackageLocations), root.Path)
	return root.PackageLocations, nil
}

func (s *Service) workerCount(packages int) int {
	n := s.opts.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return min(max(n, 1), max(packages, 1))
}

// compute runs the read-only part of the pipeline for one package: manifest
// to resolution, classification, build targets and publish manifest. The
// publish transform runs here, before any build, so its fatal errors
// surface without output directories being touched.
func compute(ctx context.Context, reader *manifest.Reader, pkgDir string, formats []bins.Format, conditions []string, log *logging.Logger) (*Result, error) {
	m, err := reader.Read(ctx, pkgDir)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Exports == nil {
		return nil, &manifest.MissingFieldError{Field: "exports"}
	}

	resolver := exports.NewResolver(log)
	if len(conditions) > 0 {
		resolver = resolver.WithConditions(conditions)
	}
	res, err := resolver.Resolve(m.Exports)
	if err != nil {
		return nil, err
	}
	res.EntryPoints = plan.AssignOutputs(res.EntryPoints, formats)

	cls := bins.NewClassifier(reader, log).Classify(ctx, m.Bin, pkgDir)

	targets := plan.New().
		WithPackageDir(pkgDir).
		WithEntryPoints(res.EntryPoints).
		WithBins(cls.EntryPoints).
		WithFormats(formats).
		Build()

	pm, err := publish.Transform(m, res, cls)
	if err != nil {
		return nil, err
	}

	return &Result{
		PackageDir:     pkgDir,
		Manifest:       m,
		Resolution:     res,
		Classification: cls,
		Targets:        targets,
		Publish:        pm,
	}, nil
}
