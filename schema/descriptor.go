// Package schema describes entity types to the property path resolver.
// A Descriptor is an explicit table of named field accessors built at
// registration time, so path resolution needs no runtime reflection and
// tooling can enumerate the valid next segments for any type.
package schema

import (
	"sort"
	"strings"
)

// Kind classifies the value a field accessor produces.
type Kind int

const (
	// Invalid marks an unusable type
	Invalid Kind = iota
	// String values compare case-insensitively
	String
	// Number values are normalized to float64 by accessors
	Number
	// Bool values support equality only
	Bool
	// Time values are time.Time instants
	Time
	// Sequence values are []any slices of a uniform element type
	Sequence
	// Object values are navigable via a nested Descriptor
	Object
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case Sequence:
		return "sequence"
	case Object:
		return "object"
	default:
		return "invalid"
	}
}

// Scalar reports whether the kind is a single comparable value.
func (k Kind) Scalar() bool {
	switch k {
	case String, Number, Bool, Time:
		return true
	default:
		return false
	}
}

// Type is the resolved type of a path position: a kind, a descriptor for
// objects, and an element type for sequences.
type Type struct {
	Kind Kind
	Desc *Descriptor // non-nil when Kind == Object
	Elem *Type       // non-nil when Kind == Sequence
}

// Name renders the type for error messages, e.g. "sequence<object:Device>".
func (t Type) Name() string {
	switch t.Kind {
	case Object:
		if t.Desc != nil {
			return "object:" + t.Desc.Name
		}
		return "object"
	case Sequence:
		if t.Elem != nil {
			return "sequence<" + t.Elem.Name() + ">"
		}
		return "sequence"
	default:
		return t.Kind.String()
	}
}

// Field is one declared field of a type: its name, an optional
// serialization-name override, its type, and an accessor.
// Accessors must normalize: numbers to float64, sequences to []any,
// absent values to nil.
type Field struct {
	Name     string
	JSONName string // serialization override; matched in addition to Name
	Type     Type
	Get      func(instance any) any
}

// Descriptor is the field table for one entity type. Field lookup is
// case-insensitive against both declared and serialization names.
type Descriptor struct {
	Name   string
	fields map[string]*Field
	names  []string
}

// NewDescriptor builds a descriptor from a field list. Later fields with
// colliding lookup names overwrite earlier ones.
func NewDescriptor(name string, fields ...*Field) *Descriptor {
	d := &Descriptor{
		Name:   name,
		fields: make(map[string]*Field, len(fields)*2),
	}
	for _, f := range fields {
		d.fields[strings.ToLower(f.Name)] = f
		if f.JSONName != "" {
			d.fields[strings.ToLower(f.JSONName)] = f
		}
		d.names = append(d.names, f.Name)
	}
	sort.Strings(d.names)
	return d
}

// Field looks up a field by name, case-insensitively.
func (d *Descriptor) Field(name string) (*Field, bool) {
	f, ok := d.fields[strings.ToLower(name)]
	return f, ok
}

// FieldNames returns declared field names in sorted order, for tooling that
// suggests available path segments.
func (d *Descriptor) FieldNames() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// AddField registers an additional field after construction. Used for
// self-referential types whose fields mention their own descriptor.
func (d *Descriptor) AddField(f *Field) {
	d.fields[strings.ToLower(f.Name)] = f
	if f.JSONName != "" {
		d.fields[strings.ToLower(f.JSONName)] = f
	}
	d.names = append(d.names, f.Name)
	sort.Strings(d.names)
}
