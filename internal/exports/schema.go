package exports

import (
	schemareflector "github.com/swaggest/jsonschema-go"
)

// An exports declaration is too polymorphic for reflection: it is a path
// string or an arbitrarily nested object. The schema only pins those two
// shapes; the structural invariants are enforced by the resolver.
func (Node) PrepareJSONSchema(schema *schemareflector.Schema) error {
	schema.Type = nil
	schema.AddType(schemareflector.String)
	schema.AddType(schemareflector.Object)
	return nil
}
