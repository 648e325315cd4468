// Package publish derives the manifest that ships with the published
// artifact, rewriting main/exports/bin to point at bundled output.
package publish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/akedrou/textdiff"

	"github.com/packbuild/packctl/internal/bins"
	"github.com/packbuild/packctl/internal/exports"
	"github.com/packbuild/packctl/internal/jsonpatch"
	"github.com/packbuild/packctl/internal/manifest"
	"github.com/packbuild/packctl/internal/plan"
)

// Manifest is the publish manifest. Only the allow-listed fields below are
// carried over from the original; everything else is dropped.
type Manifest struct {
	Name                 string                                 `json:"name"`
	Version              string                                 `json:"version"`
	Type                 string                                 `json:"type"`
	License              string                                 `json:"license,omitempty"`
	Description          string                                 `json:"description,omitempty"`
	Author               json.RawMessage                        `json:"author,omitempty"`
	Keywords             []string                               `json:"keywords,omitempty"`
	Bugs                 json.RawMessage                        `json:"bugs,omitempty"`
	Repository           json.RawMessage                        `json:"repository,omitempty"`
	PeerDependencies     map[string]string                      `json:"peerDependencies,omitempty"`
	PeerDependenciesMeta map[string]manifest.PeerDependencyMeta `json:"peerDependenciesMeta,omitempty"`
	Engines              map[string]string                      `json:"engines,omitempty"`
	Main                 string                                 `json:"main,omitempty"`
	Bin                  map[string]string                      `json:"bin,omitempty"`
	Exports              json.RawMessage                        `json:"exports,omitempty"`

	publishConfig json.RawMessage
}

// Transform rewrites the original manifest for publication. It is fatal
// when the original lacks the fields publishing is meaningless without.
func Transform(m *manifest.PackageManifest, res *exports.Resolution, cls *bins.Classification) (*Manifest, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	out := &Manifest{
		Name:                 m.Name,
		Version:              m.Version,
		Type:                 m.Type,
		License:              m.License,
		Description:          m.Description,
		Author:               m.Author,
		Keywords:             m.Keywords,
		Bugs:                 m.Bugs,
		Repository:           m.Repository,
		PeerDependencies:     m.PeerDependencies,
		PeerDependenciesMeta: m.PeerDependenciesMeta,
		Engines:              m.Engines,
		publishConfig:        m.PublishConfig,
	}

	out.Bin = publishedBins(cls)

	if m.Main != "" {
		out.Main = mainOutput(res)
	}

	exp, err := publishedExports(res)
	if err != nil {
		return nil, err
	}
	out.Exports = exp

	return out, nil
}

// publishedBins maps every classified bin to its bundled output, merging
// ignored entries verbatim so hand-authored bins are not lost.
func publishedBins(cls *bins.Classification) map[string]string {
	if cls == nil || (len(cls.EntryPoints) == 0 && len(cls.Ignored) == 0) {
		return nil
	}
	out := make(map[string]string, len(cls.EntryPoints)+len(cls.Ignored))
	for _, ep := range cls.EntryPoints {
		out[ep.BinName] = plan.BinOutputFile(ep)
	}
	maps.Copy(out, cls.Ignored)
	return out
}

func mainOutput(res *exports.Resolution) string {
	for _, ep := range res.EntryPoints {
		if ep.ChunkName == "main" {
			return ep.OutputPath
		}
	}
	return ""
}

// publishedExports collapses to a bare path string when there is exactly
// one entry point and nothing ignored; otherwise it renders an object keyed
// by export subpath, merged with the ignored branches.
func publishedExports(res *exports.Resolution) (json.RawMessage, error) {
	if res == nil {
		return nil, nil
	}

	if len(res.EntryPoints) == 1 && len(res.Ignored) == 0 {
		return json.Marshal(res.EntryPoints[0].OutputPath)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true

	writeKey := func(key string) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		return nil
	}

	for _, ep := range res.EntryPoints {
		if err := writeKey(ep.EntryPoint); err != nil {
			return nil, err
		}
		vb, err := json.Marshal(ep.OutputPath)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}

	for _, key := range slices.Sorted(maps.Keys(res.Ignored)) {
		if err := writeKey(key); err != nil {
			return nil, err
		}
		vb, err := res.Ignored[key].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Render serializes the manifest, applying any publishConfig overrides
// from the original as a merge patch. publishConfig itself never ships.
func (m *Manifest) Render() ([]byte, error) {
	bs, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	if len(m.publishConfig) > 0 {
		bs, err = jsonpatch.Merge(bs, m.publishConfig)
		if err != nil {
			return nil, fmt.Errorf("publishConfig: %w", err)
		}
	}

	var out bytes.Buffer
	if err := json.Indent(&out, bs, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (m *Manifest) WriteFile(path string) error {
	bs, err := m.Render()
	if err != nil {
		return err
	}
	return os.WriteFile(path, bs, 0o644)
}

// Diff returns a unified diff between the original manifest document and
// the rendered publish manifest. Logged at debug level by the worker.
func Diff(original, rendered []byte) string {
	return textdiff.Unified(manifest.Filename, plan.PublishDir+"/"+manifest.Filename, string(original), string(rendered))
}
