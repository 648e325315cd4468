package builder_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/packbuild/packctl/internal/bins"
	"github.com/packbuild/packctl/internal/builder"
	"github.com/packbuild/packctl/internal/logging"
	"github.com/packbuild/packctl/internal/plan"
	"github.com/packbuild/packctl/internal/test/tempfs"
)

// fakeBundler writes a shell script that records its arguments, standing in
// for the external build tool.
func fakeBundler(t *testing.T, dir string) (bin string, argsFile string) {
	t.Helper()

	argsFile = filepath.Join(dir, "args.txt")
	bin = filepath.Join(dir, "bundler.sh")
	script := fmt.Sprintf("#!/bin/sh\nprintf '%%s\\n' \"$@\" > %s\nexit 0\n", argsFile)
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin, argsFile
}

func recordedArgs(t *testing.T, argsFile string) []string {
	t.Helper()

	bs, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(bs)), "\n")
}

func TestRunInvokesBundler(t *testing.T) {
	files := map[string]string{"src/index.ts": "export {}\n"}

	tempfs.WithTempFS(t, files, func(t *testing.T, root string) {
		bin, argsFile := fakeBundler(t, t.TempDir())
		r := builder.NewExecRunner(bin, root, logging.Discard())

		err := r.Run(t.Context(), plan.Target{
			Inputs: map[string]string{"main": "./src/index.ts"},
			OutDir: "dist",
			Format: bins.FormatESM,
			Mode:   plan.ModePublish,
		})
		if err != nil {
			t.Fatal(err)
		}

		args := recordedArgs(t, argsFile)
		exp := []string{"main=./src/index.ts", "--bundle", "--platform=node", "--format=esm", "--outdir=dist"}
		if len(args) != len(exp) {
			t.Fatalf("expected args %v, got %v", exp, args)
		}
		for i := range exp {
			if args[i] != exp[i] {
				t.Fatalf("expected args %v, got %v", exp, args)
			}
		}
	})
}

func TestRunCJSWithBanner(t *testing.T) {
	files := map[string]string{"tools/cli.cjs": "#!/usr/bin/env node\n"}

	tempfs.WithTempFS(t, files, func(t *testing.T, root string) {
		bin, argsFile := fakeBundler(t, t.TempDir())
		r := builder.NewExecRunner(bin, root, logging.Discard())

		err := r.Run(t.Context(), plan.Target{
			Inputs: map[string]string{"cli": "tools/cli.cjs"},
			OutDir: "dist-dev/bin",
			Format: bins.FormatCJS,
			Mode:   plan.ModeDev,
			Banner: "#!/usr/bin/env node",
		})
		if err != nil {
			t.Fatal(err)
		}

		args := recordedArgs(t, argsFile)
		joined := strings.Join(args, " ")
		for _, want := range []string{"--format=cjs", "--out-extension:.js=.cjs", "--banner:js=#!/usr/bin/env node"} {
			if !strings.Contains(joined, want) {
				t.Fatalf("expected %q in args %v", want, args)
			}
		}
	})
}

func TestRunMaterializesVirtualModules(t *testing.T) {
	tempfs.WithTempFS(t, nil, func(t *testing.T, root string) {
		bin, argsFile := fakeBundler(t, t.TempDir())
		r := builder.NewExecRunner(bin, root, logging.Discard())

		vpath := "virtual/dev-bin/widget.mjs"
		err := r.Run(t.Context(), plan.Target{
			Inputs:         map[string]string{"widget": vpath},
			OutDir:         "dist-dev/bin",
			Format:         bins.FormatESM,
			Mode:           plan.ModeDev,
			VirtualModules: map[string]string{vpath: "// generated\n"},
		})
		if err != nil {
			t.Fatal(err)
		}

		args := recordedArgs(t, argsFile)
		// The virtual module was written to a scratch directory and the
		// input rewritten to point there.
		if !strings.Contains(args[0], "packctl-virtual-") {
			t.Fatalf("expected a scratch path in %v", args)
		}
	})
}

func TestRunMissingInput(t *testing.T) {
	tempfs.WithTempFS(t, nil, func(t *testing.T, root string) {
		r := builder.NewExecRunner("/nonexistent/bundler", root, logging.Discard())

		err := r.Run(t.Context(), plan.Target{
			Inputs: map[string]string{"main": "./src/index.ts"},
			OutDir: "dist",
			Format: bins.FormatESM,
			Mode:   plan.ModePublish,
		})
		if err == nil || !strings.Contains(err.Error(), "does not exist") {
			t.Fatalf("expected a missing-input diagnostic, got %v", err)
		}
	})
}

func TestRunIgnoresPreviousOutput(t *testing.T) {
	// A leftover file in the output tree must not satisfy the preflight.
	files := map[string]string{"dist/main.js": "stale\n"}

	tempfs.WithTempFS(t, files, func(t *testing.T, root string) {
		r := builder.NewExecRunner("/nonexistent/bundler", root, logging.Discard())

		err := r.Run(t.Context(), plan.Target{
			Inputs: map[string]string{"main": "./dist/main.js"},
			OutDir: "dist",
			Format: bins.FormatESM,
			Mode:   plan.ModePublish,
		})
		if err == nil || !strings.Contains(err.Error(), "does not exist") {
			t.Fatalf("expected the output tree to be invisible, got %v", err)
		}
	})
}

func TestRunEmptyTarget(t *testing.T) {
	r := builder.NewExecRunner("/nonexistent/bundler", ".", logging.Discard())

	if err := r.Run(t.Context(), plan.Target{OutDir: "dist"}); err != nil {
		t.Fatal(err)
	}
}

func TestRunReportsBundlerFailure(t *testing.T) {
	files := map[string]string{"src/index.ts": "export {}\n"}

	tempfs.WithTempFS(t, files, func(t *testing.T, root string) {
		dir := t.TempDir()
		bin := filepath.Join(dir, "bundler.sh")
		if err := os.WriteFile(bin, []byte("#!/bin/sh\necho boom\nexit 1\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		r := builder.NewExecRunner(bin, root, logging.Discard())

		err := r.Run(t.Context(), plan.Target{
			Inputs: map[string]string{"main": "./src/index.ts"},
			OutDir: "dist",
			Format: bins.FormatESM,
			Mode:   plan.ModePublish,
		})
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("expected the bundler output in the error, got %v", err)
		}
	})
}
