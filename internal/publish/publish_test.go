package publish_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packbuild/packctl/internal/bins"
	"github.com/packbuild/packctl/internal/exports"
	"github.com/packbuild/packctl/internal/manifest"
	"github.com/packbuild/packctl/internal/publish"
)

func parse(t *testing.T, doc string) *manifest.PackageManifest {
	t.Helper()
	m, err := manifest.Parse([]byte(doc))
	require.NoError(t, err)
	return m
}

func TestTransformSingleEntryPoint(t *testing.T) {
	m := parse(t, `{
		"name": "x",
		"version": "1.0.0",
		"type": "module",
		"main": "./src/index.ts",
		"license": "MIT",
		"scripts": {"build": "never published"},
		"devDependencies": {"typescript": "^5.0.0"}
	}`)
	res := &exports.Resolution{
		EntryPoints: []exports.EntryPoint{
			{EntryPoint: ".", SourcePath: "./src/index.ts", OutputPath: "./dist/main.js", ChunkName: "main"},
		},
	}
	cls := &bins.Classification{
		EntryPoints: []bins.EntryPoint{
			{BinName: "cli", SourceFilePath: "tools/cli.mjs", Format: bins.FormatESM, Type: bins.Standard},
		},
		Ignored: map[string]string{"legacy": "./legacy.js"},
	}

	pm, err := publish.Transform(m, res, cls)
	require.NoError(t, err)

	rendered, err := pm.Render()
	require.NoError(t, err)

	// A sole entry point with nothing ignored collapses to a bare path, and
	// only allow-listed fields survive, in manifest-conventional order.
	exp := `{
  "name": "x",
  "version": "1.0.0",
  "type": "module",
  "license": "MIT",
  "main": "./dist/main.js",
  "bin": {
    "cli": "./dist/bin/cli.js",
    "legacy": "./legacy.js"
  },
  "exports": "./dist/main.js"
}
`
	require.Equal(t, exp, string(rendered))
}

func TestTransformMultipleEntryPoints(t *testing.T) {
	m := parse(t, `{"name": "x", "version": "1.0.0", "type": "module"}`)
	res := &exports.Resolution{
		EntryPoints: []exports.EntryPoint{
			{EntryPoint: ".", OutputPath: "./dist/main.js", ChunkName: "main"},
			{EntryPoint: "./utils", OutputPath: "./dist/utils.js", ChunkName: "utils"},
		},
		Ignored: map[string]*exports.Node{
			"./configs/*": exports.MustParse(`"./configs/*.json"`),
		},
	}

	pm, err := publish.Transform(m, res, nil)
	require.NoError(t, err)

	// Entry points keep declaration order; ignored branches follow, carried
	// verbatim.
	exp := `{".":"./dist/main.js","./utils":"./dist/utils.js","./configs/*":"./configs/*.json"}`
	require.Equal(t, exp, string(pm.Exports))
}

func TestTransformIgnoredConditionBranch(t *testing.T) {
	m := parse(t, `{"name": "x", "version": "1.0.0", "type": "module"}`)
	res := &exports.Resolution{
		EntryPoints: []exports.EntryPoint{
			{EntryPoint: ".", OutputPath: "./dist/main.js", ChunkName: "main"},
		},
		Ignored: map[string]*exports.Node{
			"./browser-only": exports.MustParse(`{"browser":"./src/browser.ts"}`),
		},
	}

	pm, err := publish.Transform(m, res, nil)
	require.NoError(t, err)

	exp := `{".":"./dist/main.js","./browser-only":{"browser":"./src/browser.ts"}}`
	require.Equal(t, exp, string(pm.Exports))
}

func TestTransformWithoutMain(t *testing.T) {
	m := parse(t, `{"name": "x", "version": "1.0.0", "type": "module"}`)
	res := &exports.Resolution{
		EntryPoints: []exports.EntryPoint{
			{EntryPoint: ".", OutputPath: "./dist/main.js", ChunkName: "main"},
		},
	}

	pm, err := publish.Transform(m, res, nil)
	require.NoError(t, err)

	rendered, err := pm.Render()
	require.NoError(t, err)

	// No main in the original means no main in the publish manifest, even
	// though the primary chunk exists.
	require.NotContains(t, string(rendered), `"main"`)
}

func TestTransformValidates(t *testing.T) {
	m := parse(t, `{"name": "x", "type": "module"}`)

	_, err := publish.Transform(m, &exports.Resolution{}, nil)

	var missing *manifest.MissingFieldError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "version", missing.Field)
}

func TestRenderAppliesPublishConfig(t *testing.T) {
	m := parse(t, `{
		"name": "x",
		"version": "1.0.0",
		"type": "module",
		"publishConfig": {
			"access": "public",
			"main": "./dist/override.js"
		}
	}`)
	res := &exports.Resolution{
		EntryPoints: []exports.EntryPoint{
			{EntryPoint: ".", OutputPath: "./dist/main.js", ChunkName: "main"},
		},
	}

	pm, err := publish.Transform(m, res, nil)
	require.NoError(t, err)

	rendered, err := pm.Render()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rendered, &doc))

	require.Equal(t, "public", doc["access"])
	require.Equal(t, "./dist/override.js", doc["main"])
	// The override mechanism itself never ships.
	require.NotContains(t, doc, "publishConfig")
}

func TestRenderRejectsInvalidPublishConfig(t *testing.T) {
	m := parse(t, `{
		"name": "x",
		"version": "1.0.0",
		"type": "module",
		"publishConfig": "not an object"
	}`)
	res := &exports.Resolution{
		EntryPoints: []exports.EntryPoint{
			{EntryPoint: ".", OutputPath: "./dist/main.js", ChunkName: "main"},
		},
	}

	pm, err := publish.Transform(m, res, nil)
	require.NoError(t, err)

	_, err = pm.Render()
	require.ErrorContains(t, err, "publishConfig")
}

func TestDiff(t *testing.T) {
	original := "{\n  \"name\": \"x\"\n}\n"
	rendered := "{\n  \"name\": \"y\"\n}\n"

	diff := publish.Diff([]byte(original), []byte(rendered))

	require.True(t, strings.Contains(diff, `-  "name": "x"`))
	require.True(t, strings.Contains(diff, `+  "name": "y"`))
}
