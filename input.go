package toolstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	compiler "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Validatable is implemented by input types with rules a JSON Schema cannot express, such as
// relations between fields. Validate runs after the input passed its schema and was decoded.
// A returned ClientError reaches the model unchanged; any other error is reported as ErrValidation.
type Validatable interface {
	Validate() error
}

// inputSchema checks tool input against a compiled schema. The zero value accepts any JSON value.
// A schema that failed to compile keeps its error and rejects every input.
type inputSchema struct {
	compiled *compiler.Schema
	err      error
}

// check parses input and validates it against the schema.
func (s inputSchema) check(input []byte) error {
	if s.err != nil {
		return &SystemError{Err: s.err}
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return wrapJSONParseError(err)
	}
	if s.compiled == nil {
		return nil
	}
	if err := s.compiled.Validate(v); err != nil {
		return &ClientError{Reason: describeViolation(err), Err: ErrValidation}
	}
	return nil
}

// describeViolation renders a schema failure as "location: problem" pairs, one per failing
// keyword, so the model learns which fields to fix.
func describeViolation(err error) string {
	var ve *compiler.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	printer := message.NewPrinter(language.English)
	var problems []string
	for _, unit := range ve.BasicOutput().Errors {
		if unit.Error == nil || unit.Error.Kind == nil {
			continue
		}
		msg := unit.Error.Kind.LocalizedString(printer)
		if msg == "" {
			continue
		}
		loc := unit.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		problems = append(problems, loc+": "+msg)
	}
	if len(problems) == 0 {
		return ve.Error()
	}
	return "input does not match schema: " + strings.Join(problems, "; ")
}

// TypedInput decodes tool-call input into T. It owns the input schema generated from T and
// applies the same checks a typed tool applies before its handler runs: JSON syntax, schema,
// then Validatable. Use it to build ToolDefinitions for declared tools answered by the caller,
// or to read the input of calls collected from a step.
type TypedInput[T any] struct {
	doc    map[string]any
	schema inputSchema
}

// NewTypedInput generates the input schema of T. With strict set every object in the schema is
// closed and lists all of its properties as required.
func NewTypedInput[T any](strict bool) (*TypedInput[T], error) {
	doc, err := reflectSchema[T]()
	if err != nil {
		return nil, err
	}
	doc, schema, err := prepareSchema(doc, strict)
	if err != nil {
		return nil, fmt.Errorf("input schema of %v: %w", reflect.TypeFor[T](), err)
	}
	return &TypedInput[T]{doc: doc, schema: schema}, nil
}

// Schema returns a copy of the input schema.
func (in *TypedInput[T]) Schema() map[string]any {
	doc, err := cloneSchema(in.doc)
	if err != nil {
		return nil
	}
	return doc
}

// Definition describes a tool taking T as input.
func (in *TypedInput[T]) Definition(name, description string) ToolDefinition {
	return ToolDefinition{Name: name, Description: description, InputSchema: in.Schema()}
}

// Decode checks input and unmarshals it into T. Failures are ClientErrors meant for the model.
func (in *TypedInput[T]) Decode(input []byte) (T, error) {
	var zero T
	if err := in.schema.check(input); err != nil {
		return zero, err
	}
	var v T
	if err := json.Unmarshal(input, &v); err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := validateInput(&v); err != nil {
		if IsClientError(err) {
			return zero, err
		}
		return zero, &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return v, nil
}

// DecodeCall decodes the input of a resolved call. Invalid calls fail with their resolution error.
func (in *TypedInput[T]) DecodeCall(call TypedToolCall) (T, error) {
	if call.Invalid {
		var zero T
		if call.Err != nil {
			return zero, call.Err
		}
		return zero, &InvalidToolInputError{ToolName: call.ToolName, Input: string(call.Input), Err: ErrValidation}
	}
	return in.Decode(call.Input)
}

// validateInput calls Validate on *v when T implements Validatable, or on v when only the
// pointer does. Validate runs at most once. A nil pointer input is not validated.
func validateInput[T any](v *T) error {
	if val, ok := any(*v).(Validatable); ok {
		if rv := reflect.ValueOf(*v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil
		}
		return val.Validate()
	}
	if val, ok := any(v).(Validatable); ok {
		return val.Validate()
	}
	return nil
}

// DecodeOutput unmarshals the value of a tool result. Error and denied outputs return their
// cause, and a result without a value is ErrNoOutput.
func DecodeOutput[R any](out ToolOutput) (R, error) {
	var zero R
	switch out.Kind {
	case OutputError, OutputDenied:
		if out.Err != nil {
			return zero, out.Err
		}
		return zero, fmt.Errorf("tool %q: %s output", out.ToolName, out.Kind)
	}
	if len(out.Output) == 0 {
		return zero, fmt.Errorf("tool %q: %w", out.ToolName, ErrNoOutput)
	}
	var v R
	if err := json.Unmarshal(out.Output, &v); err != nil {
		return zero, fmt.Errorf("tool %q: failed to decode output: %w", out.ToolName, err)
	}
	return v, nil
}
