package toolstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	compiler "github.com/santhosh-tekuri/jsonschema/v6"
)

// scalarMapping is the JSON Schema rendering of a Go type registered with RegisterType.
type scalarMapping struct {
	jsonType string
	format   string
}

var (
	scalarsMu sync.RWMutex
	scalars   = map[reflect.Type]scalarMapping{}
)

// RegisterType makes generated input schemas render values of the type of sample as
// {"type": jsonType, "format": format}. Typical uses are uuid.UUID as a "string"/"uuid" or a
// decimal type as "number". Pointer fields share the mapping of their element type.
// Register types before building the tools that use them. Panics on a nil sample or empty jsonType.
func RegisterType(sample any, jsonType, format string) {
	if sample == nil {
		panic("toolstream: RegisterType sample must not be nil")
	}
	if jsonType == "" {
		panic("toolstream: RegisterType jsonType must not be empty")
	}
	scalarsMu.Lock()
	defer scalarsMu.Unlock()
	scalars[reflect.TypeOf(sample)] = scalarMapping{jsonType: jsonType, format: format}
}

func lookupScalar(t reflect.Type) *jsonschema.Schema {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	scalarsMu.RLock()
	m, ok := scalars[t]
	scalarsMu.RUnlock()
	if !ok {
		return nil
	}
	return &jsonschema.Schema{Type: m.jsonType, Format: m.format}
}

var errNilSchema = errors.New("schema reflection returned nil")

// reflectSchema renders the input schema of T as a plain JSON document. Nested types are
// inlined: providers reject $ref and $defs in tool parameters. T need not be a named struct;
// anonymous structs, maps and scalars reflect to their inline schema.
func reflectSchema[T any]() (map[string]any, error) {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
		Mapper:                    lookupScalar,
	}
	s := r.Reflect(new(T))
	if s == nil {
		return nil, errNilSchema
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reflected schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode reflected schema: %w", err)
	}
	applyFieldTags(doc, reflect.TypeFor[T]())
	return doc, nil
}

// applyFieldTags copies the description and enum struct tags of the top-level fields of typ
// onto the matching properties of doc. Properties are matched by json name.
func applyFieldTags(doc map[string]any, typ reflect.Type) {
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return
	}
	props, _ := doc["properties"].(map[string]any)
	for field := range typ.Fields() {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		prop, ok := props[name].(map[string]any)
		if name == "" || name == "-" || !ok {
			continue
		}
		if desc, ok := field.Tag.Lookup("description"); ok && desc != "" {
			prop["description"] = desc
		}
		if values, ok := field.Tag.Lookup("enum"); ok && values != "" {
			var enum []any
			for v := range strings.SplitSeq(values, ",") {
				enum = append(enum, strings.TrimSpace(v))
			}
			prop["enum"] = enum
		}
	}
}

// schemaNodes yields every object node of doc, depth first, starting with doc itself.
func schemaNodes(doc map[string]any) iter.Seq[map[string]any] {
	return func(yield func(map[string]any) bool) {
		var walk func(any) bool
		walk = func(v any) bool {
			switch n := v.(type) {
			case map[string]any:
				if !yield(n) {
					return false
				}
				for _, child := range n {
					if !walk(child) {
						return false
					}
				}
			case []any:
				for _, child := range n {
					if !walk(child) {
						return false
					}
				}
			}
			return true
		}
		if doc != nil {
			walk(doc)
		}
	}
}

// closeObjects turns every object node into a closed one: no additional properties and every
// declared property required. This is the shape strict structured-output providers accept.
func closeObjects(doc map[string]any) {
	for n := range schemaNodes(doc) {
		props, ok := n["properties"].(map[string]any)
		if !ok {
			continue
		}
		n["additionalProperties"] = false
		if len(props) == 0 {
			continue
		}
		required := make([]any, 0, len(props))
		for _, name := range slices.Sorted(maps.Keys(props)) {
			required = append(required, name)
		}
		n["required"] = required
	}
}

// dropSchemaIDs removes $id and $schema keywords. A property called "id" is kept.
func dropSchemaIDs(doc map[string]any) {
	for n := range schemaNodes(doc) {
		delete(n, "$id")
		delete(n, "$schema")
	}
}

// cloneSchema returns a copy of doc sharing no nested values with it.
func cloneSchema(doc map[string]any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

const schemaResource = "toolstream-input.json"

// compileSchema compiles doc. doc is not mutated.
func compileSchema(doc map[string]any) (*compiler.Schema, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	parsed, err := compiler.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c := compiler.NewCompiler()
	if err := c.AddResource(schemaResource, parsed); err != nil {
		return nil, err
	}
	return c.Compile(schemaResource)
}

// prepareSchema readies a tool input schema: it copies doc, closes its objects when strict,
// drops $id and $schema, and compiles the result. The returned document is what providers see.
func prepareSchema(doc map[string]any, strict bool) (map[string]any, inputSchema, error) {
	prepared, err := cloneSchema(doc)
	if err != nil {
		return nil, inputSchema{}, fmt.Errorf("failed to copy schema: %w", err)
	}
	if strict {
		closeObjects(prepared)
	}
	dropSchemaIDs(prepared)
	compiled, err := compileSchema(prepared)
	if err != nil {
		return nil, inputSchema{}, fmt.Errorf("failed to compile schema: %w", err)
	}
	return prepared, inputSchema{compiled: compiled}, nil
}
