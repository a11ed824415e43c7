package patch

import (
	"fmt"

	"github.com/censo/censo/backend/go-services/internal/record"
)

// Kind describes what a schema field may hold.
type Kind int

const (
	// KindAny accepts anything below it, including deeper paths.
	KindAny Kind = iota
	// KindMap holds keyed children described by Field.Elem.
	KindMap
	// KindArray is replaced wholesale; paths may not descend into it.
	KindArray
	// KindScalar is a leaf value.
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindMap:
		return "map"
	case KindArray:
		return "array"
	case KindScalar:
		return "scalar"
	}
	return "unknown"
}

// Field is a node of a Schema. A map field with a nil Elem accepts anything
// below it.
type Field struct {
	Kind Kind
	Elem *Field
}

var (
	anyField    = &Field{Kind: KindAny}
	arrayField  = &Field{Kind: KindArray}
	scalarField = &Field{Kind: KindScalar}
)

// MapOf returns a map field whose children all look like elem.
func MapOf(elem *Field) *Field { return &Field{Kind: KindMap, Elem: elem} }

// Schema lists the top-level fields a record may have.
type Schema struct {
	roots map[string]*Field
}

// NewSchema builds a schema from its root fields.
func NewSchema(roots map[string]*Field) *Schema {
	s := &Schema{roots: make(map[string]*Field, len(roots))}
	for k, f := range roots {
		s.roots[k] = f
	}
	return s
}

// With returns a copy of s with an extra root field.
func (s *Schema) With(name string, f *Field) *Schema {
	out := NewSchema(s.roots)
	out.roots[name] = f
	return out
}

// Validate checks that segs (the split form of path) address a location
// the schema allows.
func (s *Schema) Validate(path string, segs []string) error {
	f, ok := s.roots[segs[0]]
	if !ok {
		return &record.MalformedPatchError{Path: path, Reason: fmt.Sprintf("unknown field %q", segs[0])}
	}
	for i := 1; i < len(segs); i++ {
		switch f.Kind {
		case KindAny:
			return nil
		case KindMap:
			if f.Elem == nil {
				return nil
			}
			f = f.Elem
		default:
			return &record.MalformedPatchError{
				Path:   path,
				Reason: fmt.Sprintf("cannot address %q inside %s field", segs[i], f.Kind),
			}
		}
	}
	return nil
}

// CensusSchema is the layout of the daily census record.
func CensusSchema() *Schema {
	return NewSchema(map[string]*Field{
		"beds":            MapOf(MapOf(nil)),
		"activeExtraBeds": arrayField,
		"discharges":      arrayField,
		"transfers":       arrayField,
		"cma":             arrayField,

		"nursesDayShift":   arrayField,
		"nursesNightShift": arrayField,
		"tensDayShift":     arrayField,
		"tensNightShift":   arrayField,

		"handoffDayChecklist":      MapOf(nil),
		"handoffNightChecklist":    MapOf(nil),
		"handoffNovedadesDayShift": scalarField,
		"handoffNovedadesNight":    scalarField,
		"medicalHandoff":           anyField,
		"schemaVersion":            scalarField,
	})
}
