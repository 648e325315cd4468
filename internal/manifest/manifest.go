// Package manifest loads and validates package manifests. It is the only
// decode boundary: downstream components consume the typed PackageManifest,
// never the raw document.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/packbuild/packctl/internal/exports"
)

// Filename is the manifest file name expected in every package directory.
const Filename = "package.json"

// TypeModule is the only module-system marker this tool builds. Anything
// else is rejected at validation time.
const TypeModule = "module"

// PackageManifest is a validated package manifest. Fields outside the
// publish allow-list are decoded only when the build pipeline needs them.
type PackageManifest struct {
	Name       string        `json:"name"`
	Version    string        `json:"version"`
	Type       string        `json:"type"`
	Main       string        `json:"main,omitempty"`
	Exports    *exports.Node `json:"exports,omitempty"`
	Bin        BinDecl       `json:"bin,omitempty"`
	Workspaces []string      `json:"workspaces,omitempty"`

	Dependencies         map[string]string             `json:"dependencies,omitempty"`
	DevDependencies      map[string]string             `json:"devDependencies,omitempty"`
	PeerDependencies     map[string]string             `json:"peerDependencies,omitempty"`
	PeerDependenciesMeta map[string]PeerDependencyMeta `json:"peerDependenciesMeta,omitempty"`
	Engines              map[string]string             `json:"engines,omitempty"`

	License       string          `json:"license,omitempty"`
	Description   string          `json:"description,omitempty"`
	Author        json.RawMessage `json:"author,omitempty"`
	Keywords      []string        `json:"keywords,omitempty"`
	Bugs          json.RawMessage `json:"bugs,omitempty"`
	Repository    json.RawMessage `json:"repository,omitempty"`
	PublishConfig json.RawMessage `json:"publishConfig,omitempty"`
}

type PeerDependencyMeta struct {
	Optional bool `json:"optional,omitempty"`
}

// BinDecl maps bin names to source paths. A bare string declaration is
// normalized to a single entry named after the unscoped package name.
type BinDecl map[string]string

func (b *BinDecl) UnmarshalJSON(bs []byte) error {
	var single string
	if err := json.Unmarshal(bs, &single); err == nil {
		*b = BinDecl{"": single}
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(bs, &m); err != nil {
		return fmt.Errorf("bin must be a string or a mapping of names to paths: %w", err)
	}
	*b = m
	return nil
}

// MissingFieldError is fatal: the manifest lacks a field required for
// building or publishing.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("package manifest is missing required field %q", e.Field)
}

// ModuleTypeError is fatal: the manifest declares a module system other
// than "module".
type ModuleTypeError struct {
	Value string
}

func (e *ModuleTypeError) Error() string {
	return fmt.Sprintf("package type %q is not supported, only %q packages can be built", e.Value, TypeModule)
}

// Parse validates the document against the embedded manifest schema and
// decodes it. Structural problems are fatal; field-level requirements are
// checked separately by Validate so that read-only consumers (workspace
// probing, dependency-bin resolution) can load partial manifests.
func Parse(bs []byte) (*PackageManifest, error) {
	if err := validateSchema(bs); err != nil {
		return nil, err
	}

	var m PackageManifest
	if err := json.Unmarshal(bs, &m); err != nil {
		return nil, err
	}

	if path, ok := m.Bin[""]; ok {
		delete(m.Bin, "")
		m.Bin[defaultBinName(m.Name)] = path
	}
	return &m, nil
}

// Validate enforces the fields a build cannot proceed without.
func (m *PackageManifest) Validate() error {
	if m.Name == "" {
		return &MissingFieldError{Field: "name"}
	}
	if m.Version == "" {
		return &MissingFieldError{Field: "version"}
	}
	if m.Type == "" {
		return &MissingFieldError{Field: "type"}
	}
	if m.Type != TypeModule {
		return &ModuleTypeError{Value: m.Type}
	}
	return nil
}

// DependsOn reports whether name appears in dependencies or devDependencies.
func (m *PackageManifest) DependsOn(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}

func defaultBinName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
