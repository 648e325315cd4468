// Package exports flattens a package manifest's conditional exports
// declaration into the concrete list of buildable entry points.
package exports

import (
	"fmt"
	"slices"
	"strings"

	"github.com/packbuild/packctl/internal/logging"
)

// DefaultConditions is the preference order used to pick among condition
// keys when a declaration offers alternatives for the same entry point.
var DefaultConditions = []string{"types", "node", "default"}

// EntryPoint is one buildable public module of the package. The chunk name
// is derived deterministically from the export subpath and is unique within
// a resolution.
type EntryPoint struct {
	EntryPoint string // export subpath, "." is the primary entry point
	SourcePath string
	OutputPath string // filled in by the plan builder
	ChunkName  string
}

// Resolution is the outcome of flattening an exports declaration. Ignored
// holds the subpath/condition branches that could not be resolved; they are
// carried verbatim into the publish manifest.
type Resolution struct {
	EntryPoints []EntryPoint
	Ignored     map[string]*Node
}

// AmbiguousKeyError is fatal: subpath keys were found inside a condition
// value, where only further conditions or a terminal path are legal.
type AmbiguousKeyError struct {
	Condition string
	Keys      []string
}

func (e *AmbiguousKeyError) Error() string {
	quoted := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	return fmt.Sprintf("condition %q may not contain subpath keys %s", e.Condition, strings.Join(quoted, ", "))
}

type Resolver struct {
	conditions []string
	log        *logging.Logger
}

func NewResolver(log *logging.Logger) *Resolver {
	return &Resolver{conditions: DefaultConditions, log: log}
}

// WithConditions overrides the condition preference order.
func (r *Resolver) WithConditions(conditions []string) *Resolver {
	r.conditions = conditions
	return r
}

// Resolve flattens the declaration. It fails only on structurally invalid
// declarations; unsupported patterns degrade into Resolution.Ignored with a
// warning.
func (r *Resolver) Resolve(node *Node) (*Resolution, error) {
	if node == nil {
		return nil, &InvalidNodeError{Got: "nothing"}
	}

	res := &Resolution{Ignored: make(map[string]*Node)}
	seen := make(map[string]bool)

	if err := r.resolveTop(node, res, seen); err != nil {
		return nil, err
	}
	return res, nil
}

// resolveTop handles the outermost declaration: a bare path, a table of
// subpaths, or a condition selection for the primary entry point.
func (r *Resolver) resolveTop(n *Node, res *Resolution, seen map[string]bool) error {
	switch {
	case n.IsNull():
		return &InvalidNodeError{Got: "null"}
	case n.IsLeaf():
		r.record(".", n.Path(), res, seen)
		return nil
	}

	conditionDone := false
	for _, key := range n.Keys() {
		child := n.Child(key)

		switch {
		case child.IsNull():
			// Explicit omission, deliberately dropped.
		case strings.HasPrefix(key, "."):
			if strings.Contains(key, "*") {
				r.ignore(key, child, res, "glob export %q is passed through to the build tool, not expanded", key)
				continue
			}
			if err := r.resolveSubpath(key, child, res, seen); err != nil {
				return err
			}
		default:
			// A condition key where a subpath table lives selects among
			// alternatives for the primary entry point. Only the first
			// preferred condition wins.
			if conditionDone {
				continue
			}
			pick, ok := r.pickCondition(n)
			if !ok {
				r.ignore(key, child, res, "no supported condition among %v for the primary entry point", n.Keys())
				conditionDone = true
				continue
			}
			if err := r.resolveCondition(pick, n.Child(pick), res, seen); err != nil {
				return err
			}
			conditionDone = true
		}
	}
	return nil
}

// resolveSubpath handles the value declared for one export subpath. Only
// condition keys are legal directly below a subpath; anything else degrades
// to ignored.
func (r *Resolver) resolveSubpath(entry string, n *Node, res *Resolution, seen map[string]bool) error {
	switch {
	case n.IsNull():
		return nil
	case n.IsLeaf():
		r.record(entry, n.Path(), res, seen)
		return nil
	}

	if keys := subpathKeys(n); len(keys) > 0 {
		r.ignore(entry, n, res, "export %q nests subpaths %v where conditions were expected", entry, keys)
		return nil
	}

	pick, ok := r.pickCondition(n)
	if !ok {
		r.ignore(entry, n, res, "export %q offers no supported condition (have %v, want one of %v)", entry, n.Keys(), r.conditions)
		return nil
	}
	return r.resolveSubpath(entry, n.Child(pick), res, seen)
}

// resolveCondition handles the value of a condition selected at the top
// level. Subpath keys at this position make the declaration ambiguous: the
// entry point was already fixed when the condition was chosen.
func (r *Resolver) resolveCondition(condition string, n *Node, res *Resolution, seen map[string]bool) error {
	switch {
	case n.IsNull():
		return nil
	case n.IsLeaf():
		r.record(".", n.Path(), res, seen)
		return nil
	}

	if keys := subpathKeys(n); len(keys) > 0 {
		return &AmbiguousKeyError{Condition: condition, Keys: keys}
	}

	pick, ok := r.pickCondition(n)
	if !ok {
		r.ignore(condition, n, res, "condition %q offers no supported nested condition (have %v)", condition, n.Keys())
		return nil
	}
	return r.resolveCondition(pick, n.Child(pick), res, seen)
}

func (r *Resolver) record(entry, sourcePath string, res *Resolution, seen map[string]bool) {
	chunk := ChunkName(entry)
	if seen[chunk] {
		r.log.Debugf("dropping export %q: chunk name %q already taken", entry, chunk)
		return
	}
	seen[chunk] = true
	res.EntryPoints = append(res.EntryPoints, EntryPoint{
		EntryPoint: entry,
		SourcePath: sourcePath,
		ChunkName:  chunk,
	})
}

func (r *Resolver) ignore(key string, n *Node, res *Resolution, format string, args ...any) {
	r.log.Warnf(format, args...)
	res.Ignored[key] = n
}

func (r *Resolver) pickCondition(n *Node) (string, bool) {
	for _, c := range r.conditions {
		if child := n.Child(c); child != nil && !child.IsNull() {
			return c, true
		}
	}
	return "", false
}

func subpathKeys(n *Node) []string {
	var keys []string
	for _, k := range n.Keys() {
		if strings.HasPrefix(k, ".") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// ChunkName derives the build-tool chunk name for an export subpath. The
// primary entry point "." maps to "main".
func ChunkName(entryPoint string) string {
	if entryPoint == "." {
		return "main"
	}
	name := strings.TrimPrefix(entryPoint, "./")
	name = strings.TrimSuffix(name, "/*")
	name = strings.TrimSuffix(name, "/")
	name = strings.ReplaceAll(name, "*", "")
	return strings.ReplaceAll(name, "/", "_")
}
