package sortlist

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Property names the field(s) a list is sorted by. Multiple fields are
// compared in order until one differs.
type Property []string

// P builds a Property.
func P(fields ...string) Property {
	return Property(fields)
}

func (p Property) Equal(o Property) bool {
	return slices.Equal(p, o)
}

func (p Property) String() string {
	return strings.Join(p, ",")
}

// MarshalCBOR writes a single field as a text string and several fields as an
// array, the two shapes stored by older clients.
func (p Property) MarshalCBOR() ([]byte, error) {
	switch len(p) {
	case 0:
		return cbor.Marshal(nil)
	case 1:
		return cbor.Marshal(p[0])
	}
	return cbor.Marshal([]string(p))
}

func (p *Property) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*p = nil
	case string:
		*p = Property{v}
	case []any:
		out := make(Property, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("sort property entry must be a string, got %T", item)
			}
			out = append(out, s)
		}
		*p = out
	default:
		return fmt.Errorf("sort property must be a string or an array, got %T", raw)
	}
	return nil
}

// Definition is the selected sort order of a list.
type Definition struct {
	SortProperty  Property `cbor:"sortProperty"`
	SortAscending bool     `cbor:"sortAscending"`
}

func (d Definition) Equal(o Definition) bool {
	return d.SortAscending == o.SortAscending && d.SortProperty.Equal(o.SortProperty)
}

func (d *Definition) clone() *Definition {
	if d == nil {
		return nil
	}
	return &Definition{SortProperty: slices.Clone(d.SortProperty), SortAscending: d.SortAscending}
}
