// Package patch applies path-addressed partial updates to census records.
//
// A patch is a flat map of dot-separated paths to values. Applying it walks
// a deep copy of the record, creating missing intermediate maps on the way,
// and assigns each value at its leaf. Arrays are always replaced whole.
package patch

import (
	"sort"
	"strings"

	"github.com/censo/censo/backend/go-services/internal/record"
)

// ApplyPatches applies patches to a copy of doc without schema checks.
// doc itself is never modified.
func ApplyPatches(doc *record.Document, patches record.Patch) (*record.Document, error) {
	return Apply(doc, patches, nil)
}

// Apply applies patches to a copy of doc. When schema is non-nil every path
// is validated against it before anything is assigned, so a rejected patch
// leaves no partial result behind.
func Apply(doc *record.Document, patches record.Patch, schema *Schema) (*record.Document, error) {
	paths := make([]string, 0, len(patches))
	split := make(map[string][]string, len(patches))
	for p := range patches {
		segs, err := Split(p)
		if err != nil {
			return nil, err
		}
		if schema != nil {
			if err := schema.Validate(p, segs); err != nil {
				return nil, err
			}
		}
		paths = append(paths, p)
		split[p] = segs
	}
	// parents sort before their children, so "beds.R1" lands before "beds.R1.name"
	sort.Strings(paths)

	out := doc.Clone()
	if out == nil {
		out = record.New("")
	}
	for _, p := range paths {
		assign(out.Data, split[p], patches[p])
	}
	return out, nil
}

// Split breaks a patch path into segments, rejecting empty segments and the
// fields owned by the sync engine.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, &record.MalformedPatchError{Path: path, Reason: "empty path"}
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, &record.MalformedPatchError{Path: path, Reason: "empty path segment"}
		}
	}
	switch segs[0] {
	case "date":
		return nil, &record.MalformedPatchError{Path: path, Reason: "date is immutable"}
	case "lastUpdated":
		return nil, &record.MalformedPatchError{Path: path, Reason: "lastUpdated is managed by the sync engine"}
	}
	return segs, nil
}

func assign(root map[string]any, segs []string, value any) {
	node := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node[seg].(map[string]any)
		if !ok {
			// absent, nil, scalar or array: replaced by a fresh map
			next = map[string]any{}
			node[seg] = next
		}
		node = next
	}
	node[segs[len(segs)-1]] = record.CloneValue(value)
}
