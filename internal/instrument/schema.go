package instrument

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printer renders validation errors in English.
var printer = message.NewPrinter(language.English)

// validator checks decoded JSON values against a schema reflected from a
// message struct.
type validator struct {
	name   string
	schema *jsonschema.Schema
}

// newValidator reflects v's type into a JSON Schema and compiles it.
func newValidator(name string, v any) (*validator, error) {
	r := &invopop.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	reflected := r.Reflect(v)

	// Round-trip through JSON to get the plain value the compiler expects.
	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s schema: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding %s schema: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	loc := name + ".json"
	if err := c.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("adding %s schema: %w", name, err)
	}
	compiled, err := c.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", name, err)
	}
	return &validator{name: name, schema: compiled}, nil
}

// validate returns nil or an error wrapping ErrInvalidMessage with one
// "path: reason" entry per failure.
func (v *validator) validate(value any) error {
	err := v.schema.Validate(value)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("%w: %s: %v", ErrInvalidMessage, v.name, err)
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalidMessage, v.name, strings.Join(leafErrors(verr), "; "))
}

// leafErrors flattens a validation error tree into sorted, de-duplicated
// messages.
func leafErrors(err *jsonschema.ValidationError) []string {
	seen := make(map[string]struct{})
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e.ErrorKind != nil && len(e.Causes) == 0 {
			path := "/" + strings.Join(e.InstanceLocation, "/")
			seen[path+": "+e.ErrorKind.LocalizedString(printer)] = struct{}{}
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)

	out := make([]string, 0, len(seen))
	for msg := range seen {
		out = append(out, msg)
	}
	sort.Strings(out)
	return out
}
