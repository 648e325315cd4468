package exports

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/packbuild/packctl/internal/util"
)

type nodeKind int

const (
	leafNode nodeKind = iota
	groupNode
	nullNode
)

// Node is a single position in an exports declaration: either a terminal
// source path (leaf), a mapping of subpath/condition keys to child nodes
// (group), or an explicit null. Group decoding preserves declaration order,
// which decides condition preference ties and chunk-name collisions.
type Node struct {
	kind     nodeKind
	leaf     string
	keys     []string
	children map[string]*Node
}

// InvalidNodeError is fatal: an exports declaration contained a value that
// is neither a string nor an object.
type InvalidNodeError struct {
	Path string // subpath/condition position, "" for the top level
	Got  string
}

func (e *InvalidNodeError) Error() string {
	at := "exports"
	if e.Path != "" {
		at = fmt.Sprintf("exports[%q]", e.Path)
	}
	return fmt.Sprintf("%s must be a string or an object, got %s", at, e.Got)
}

func (n *Node) IsLeaf() bool { return n.kind == leafNode }
func (n *Node) IsNull() bool { return n.kind == nullNode }

// Path returns the source path of a leaf node, "" otherwise.
func (n *Node) Path() string { return n.leaf }

// Keys returns the group keys in declaration order.
func (n *Node) Keys() []string { return n.keys }

func (n *Node) Child(key string) *Node { return n.children[key] }

func (n *Node) Equal(other *Node) bool {
	return util.FastEqual(n, other, func(a, b *Node) bool {
		ab, err := a.MarshalJSON()
		if err != nil {
			return false
		}
		bb, err := b.MarshalJSON()
		if err != nil {
			return false
		}
		return bytes.Equal(ab, bb)
	})
}

func (n *Node) UnmarshalJSON(bs []byte) error {
	dec := json.NewDecoder(bytes.NewReader(bs))
	parsed, err := parseNode(dec, "")
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

func parseNode(dec *json.Decoder, path string) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case string:
		return &Node{kind: leafNode, leaf: t}, nil
	case nil:
		return &Node{kind: nullNode}, nil
	case json.Delim:
		if t != '{' {
			return nil, &InvalidNodeError{Path: path, Got: "array"}
		}
		n := &Node{kind: groupNode, children: make(map[string]*Node)}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key := keyTok.(string) // object keys are always strings
			child, err := parseNode(dec, joinPath(path, key))
			if err != nil {
				return nil, err
			}
			if _, ok := n.children[key]; !ok {
				n.keys = append(n.keys, key)
			}
			n.children[key] = child
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, err
		}
		return n, nil
	case bool:
		return nil, &InvalidNodeError{Path: path, Got: "boolean"}
	default:
		return nil, &InvalidNodeError{Path: path, Got: "number"}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// MarshalJSON renders the node back to its declaration form, preserving
// group key order. Ignored entries re-enter the publish manifest through
// this path, so the round trip has to be exact.
func (n *Node) MarshalJSON() ([]byte, error) {
	switch n.kind {
	case leafNode:
		return json.Marshal(n.leaf)
	case nullNode:
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range n.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		cb, err := n.children[key].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(cb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MustParse parses a JSON exports declaration, panicking on error. Test
// helper.
func MustParse(s string) *Node {
	var n Node
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		panic(err)
	}
	return &n
}
