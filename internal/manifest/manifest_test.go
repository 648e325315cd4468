package manifest_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/packbuild/packctl/internal/logging"
	"github.com/packbuild/packctl/internal/manifest"
	"github.com/packbuild/packctl/internal/test/tempfs"
)

func TestParse(t *testing.T) {
	m, err := manifest.Parse([]byte(`{
		"name": "@acme/widget",
		"version": "1.2.3",
		"type": "module",
		"main": "./src/index.ts",
		"exports": "./src/index.ts",
		"bin": {
			"widget": "./src/bin/widget.ts"
		},
		"dependencies": {
			"left-pad": "^1.0.0"
		},
		"devDependencies": {
			"typescript": "^5.0.0"
		},
		"peerDependencies": {
			"react": ">=18"
		},
		"peerDependenciesMeta": {
			"react": {"optional": true}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if m.Name != "@acme/widget" || m.Version != "1.2.3" || m.Type != manifest.TypeModule {
		t.Fatalf("unexpected identity fields: %+v", m)
	}
	if !m.Exports.IsLeaf() || m.Exports.Path() != "./src/index.ts" {
		t.Fatalf("unexpected exports: %+v", m.Exports)
	}
	if diff := cmp.Diff(manifest.BinDecl{"widget": "./src/bin/widget.ts"}, m.Bin); diff != "" {
		t.Fatalf("unexpected bin (-want +got):\n%s", diff)
	}
	if !m.PeerDependenciesMeta["react"].Optional {
		t.Fatal("expected react to be an optional peer")
	}
}

func TestParseBinShorthand(t *testing.T) {
	// A bare string bin takes the unscoped package name.
	m, err := manifest.Parse([]byte(`{
		"name": "@acme/widget",
		"version": "1.0.0",
		"type": "module",
		"bin": "./src/bin/widget.ts"
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(manifest.BinDecl{"widget": "./src/bin/widget.ts"}, m.Bin); diff != "" {
		t.Fatalf("unexpected bin (-want +got):\n%s", diff)
	}
}

func TestParseSchemaViolations(t *testing.T) {
	cases := []struct {
		note string
		doc  string
	}{
		{note: "name must be a string", doc: `{"name": 42}`},
		{note: "bin must be a string or an object", doc: `{"name": "x", "bin": ["./a.ts"]}`},
		{note: "exports must be a string or an object", doc: `{"name": "x", "exports": ["./a.ts"]}`},
		{note: "workspaces must be an array", doc: `{"name": "x", "workspaces": "packages/*"}`},
		{note: "document must be JSON", doc: `not json`},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			if _, err := manifest.Parse([]byte(tc.doc)); err == nil {
				t.Fatal("expected a parse error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		note    string
		doc     string
		missing string
		badType string
	}{
		{note: "missing name", doc: `{"version": "1.0.0", "type": "module"}`, missing: "name"},
		{note: "missing version", doc: `{"name": "x", "type": "module"}`, missing: "version"},
		{note: "missing type", doc: `{"name": "x", "version": "1.0.0"}`, missing: "type"},
		{note: "commonjs package", doc: `{"name": "x", "version": "1.0.0", "type": "commonjs"}`, badType: "commonjs"},
		{note: "valid", doc: `{"name": "x", "version": "1.0.0", "type": "module"}`},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			m, err := manifest.Parse([]byte(tc.doc))
			if err != nil {
				t.Fatal(err)
			}

			err = m.Validate()
			switch {
			case tc.missing != "":
				var missing *manifest.MissingFieldError
				if !errors.As(err, &missing) || missing.Field != tc.missing {
					t.Fatalf("expected missing field %q, got %v", tc.missing, err)
				}
			case tc.badType != "":
				var badType *manifest.ModuleTypeError
				if !errors.As(err, &badType) || badType.Value != tc.badType {
					t.Fatalf("expected module type error for %q, got %v", tc.badType, err)
				}
			default:
				if err != nil {
					t.Fatal(err)
				}
			}
		})
	}
}

func TestDependsOn(t *testing.T) {
	m, err := manifest.Parse([]byte(`{
		"name": "x",
		"version": "1.0.0",
		"type": "module",
		"dependencies": {"a": "1"},
		"devDependencies": {"b": "1"}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	if !m.DependsOn("a") || !m.DependsOn("b") || m.DependsOn("c") {
		t.Fatalf("unexpected dependency answers for %+v", m)
	}
}

func TestReaderMemoizes(t *testing.T) {
	files := map[string]string{
		"package.json": `{"name": "x", "version": "1.0.0", "type": "module"}`,
	}

	tempfs.WithTempFS(t, files, func(t *testing.T, root string) {
		r := manifest.NewReader(logging.Discard())

		first, err := r.Read(t.Context(), root)
		if err != nil {
			t.Fatal(err)
		}
		second, err := r.Read(t.Context(), root)
		if err != nil {
			t.Fatal(err)
		}

		if first != second {
			t.Fatal("expected repeated reads to return the memoized manifest")
		}
	})
}

func TestReaderMissingManifest(t *testing.T) {
	tempfs.WithTempFS(t, nil, func(t *testing.T, root string) {
		if _, err := manifest.NewReader(logging.Discard()).Read(t.Context(), root); err == nil {
			t.Fatal("expected an error for a directory without a manifest")
		}
	})
}
