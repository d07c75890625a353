package manifest

import (
	"fmt"
	"sort"
)

// RefRole describes how one field of an operation kind is interpreted when
// it carries a reference.
type RefRole struct {
	Field     string
	Namespace Namespace
}

// OpSpec is the static shape of one operation kind: which fields are
// required, which are allowed at all, which carry references and in which
// namespace, and whether the kind defines a new symbol via tempId.
type OpSpec struct {
	Kind     Kind
	Required []string
	Optional []string

	// Refs lists the reference-carrying fields and their namespaces.
	Refs []RefRole

	// Defines is the namespace of the symbol this kind creates via tempId,
	// or NamespaceNone for non-creating kinds.
	Defines Namespace

	// DeleteStyle marks delete/remove kinds, which are exempt from
	// forward-only reference ordering.
	DeleteStyle bool
}

func conceptRef(fields ...string) []RefRole {
	out := make([]RefRole, len(fields))
	for i, f := range fields {
		out[i] = RefRole{Field: f, Namespace: NamespaceConcept}
	}
	return out
}

func visualRef(fields ...string) []RefRole {
	out := make([]RefRole, len(fields))
	for i, f := range fields {
		out[i] = RefRole{Field: f, Namespace: NamespaceVisual}
	}
	return out
}

var opSpecs = map[Kind]OpSpec{
	OpCreateElement: {
		Kind:     OpCreateElement,
		Required: []string{"op", "tempId", "type", "name"},
		Optional: []string{"folder", "documentation", "properties", "duplicateStrategy"},
		Refs:     conceptRef("folder"),
		Defines:  NamespaceConcept,
	},
	OpUpdateElement: {
		Kind:     OpUpdateElement,
		Required: []string{"op", "id"},
		Optional: []string{"name", "documentation", "properties"},
		Refs:     conceptRef("id"),
	},
	OpDeleteElement: {
		Kind:        OpDeleteElement,
		Required:    []string{"op", "id"},
		Refs:        conceptRef("id"),
		DeleteStyle: true,
	},
	OpCreateRelationship: {
		Kind:     OpCreateRelationship,
		Required: []string{"op", "tempId", "type", "source", "target"},
		Optional: []string{"name", "documentation", "properties", "duplicateStrategy"},
		Refs:     conceptRef("source", "target"),
		Defines:  NamespaceConcept,
	},
	OpUpdateRelationship: {
		Kind:     OpUpdateRelationship,
		Required: []string{"op", "id"},
		Optional: []string{"name", "documentation", "properties"},
		Refs:     conceptRef("id"),
	},
	OpDeleteRelationship: {
		Kind:        OpDeleteRelationship,
		Required:    []string{"op", "id"},
		Refs:        conceptRef("id"),
		DeleteStyle: true,
	},
	OpCreateFolder: {
		Kind:     OpCreateFolder,
		Required: []string{"op", "tempId", "name"},
		Optional: []string{"parent", "duplicateStrategy"},
		Refs:     conceptRef("parent"),
		Defines:  NamespaceConcept,
	},
	OpDeleteFolder: {
		Kind:        OpDeleteFolder,
		Required:    []string{"op", "id"},
		Refs:        conceptRef("id"),
		DeleteStyle: true,
	},
	OpMoveToFolder: {
		Kind:     OpMoveToFolder,
		Required: []string{"op", "id", "folder"},
		Refs:     conceptRef("id", "folder"),
	},
	OpCreateView: {
		Kind:     OpCreateView,
		Required: []string{"op", "tempId", "name"},
		Optional: []string{"folder", "documentation", "duplicateStrategy"},
		Refs:     conceptRef("folder"),
		Defines:  NamespaceConcept,
	},
	OpUpdateView: {
		Kind:     OpUpdateView,
		Required: []string{"op", "id"},
		Optional: []string{"name", "documentation"},
		Refs:     conceptRef("id"),
	},
	OpDeleteView: {
		Kind:        OpDeleteView,
		Required:    []string{"op", "id"},
		Refs:        conceptRef("id"),
		DeleteStyle: true,
	},

	OpAddElementToView: {
		Kind:     OpAddElementToView,
		Required: []string{"op", "tempId", "view", "element"},
		Optional: []string{"bounds", "style", "duplicateStrategy"},
		Refs:     conceptRef("view", "element"),
		Defines:  NamespaceVisual,
	},
	OpAddRelationshipToView: {
		Kind:     OpAddRelationshipToView,
		Required: []string{"op", "tempId", "view", "relationship", "sourceVisual", "targetVisual"},
		Optional: []string{"style", "duplicateStrategy"},
		Refs: append(conceptRef("view", "relationship"),
			visualRef("sourceVisual", "targetVisual")...),
		Defines: NamespaceVisual,
	},
	OpNestElement: {
		Kind:     OpNestElement,
		Required: []string{"op", "visual", "into"},
		Refs:     visualRef("visual", "into"),
	},
	OpMoveVisual: {
		Kind:     OpMoveVisual,
		Required: []string{"op", "visual", "bounds"},
		Refs:     visualRef("visual"),
	},
	OpResizeVisual: {
		Kind:     OpResizeVisual,
		Required: []string{"op", "visual", "bounds"},
		Refs:     visualRef("visual"),
	},
	OpStyleVisual: {
		Kind:     OpStyleVisual,
		Required: []string{"op", "visual", "style"},
		Refs:     visualRef("visual"),
	},
	OpStyleConnection: {
		Kind:     OpStyleConnection,
		Required: []string{"op", "visual", "style"},
		Refs:     visualRef("visual"),
	},
	OpAddNote: {
		Kind:     OpAddNote,
		Required: []string{"op", "tempId", "view", "text"},
		Optional: []string{"bounds", "style", "duplicateStrategy"},
		Refs:     conceptRef("view"),
		Defines:  NamespaceVisual,
	},
	OpAddGroup: {
		Kind:     OpAddGroup,
		Required: []string{"op", "tempId", "view", "name"},
		Optional: []string{"bounds", "style", "duplicateStrategy"},
		Refs:     conceptRef("view"),
		Defines:  NamespaceVisual,
	},
	OpRemoveFromView: {
		Kind:        OpRemoveFromView,
		Required:    []string{"op", "visual"},
		Refs:        visualRef("visual"),
		DeleteStyle: true,
	},
}

// SpecFor returns the spec for a kind, or false for an unknown kind.
func SpecFor(k Kind) (OpSpec, bool) {
	s, ok := opSpecs[k]
	return s, ok
}

// Kinds returns every known operation kind, sorted.
func Kinds() []Kind {
	out := make([]Kind, 0, len(opSpecs))
	for k := range opSpecs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckShape validates an operation against its kind's spec: known kind,
// all required fields present, no fields outside the allowed set. Returned
// errors are plain; the caller attaches operation indices.
func CheckShape(op *Operation) []error {
	var errs []error

	spec, ok := SpecFor(op.Op)
	if !ok {
		return []error{fmt.Errorf("unknown op %q", op.Op)}
	}

	allowed := make(map[string]struct{}, len(spec.Required)+len(spec.Optional))
	for _, f := range spec.Required {
		allowed[f] = struct{}{}
	}
	for _, f := range spec.Optional {
		allowed[f] = struct{}{}
	}

	for _, f := range spec.Required {
		if !op.Present(f) {
			errs = append(errs, fmt.Errorf("%s: missing required field %q", op.Op, f))
		}
	}

	var extra []string
	for f := range op.present {
		if _, ok := allowed[f]; !ok {
			extra = append(extra, f)
		}
	}
	sort.Strings(extra)
	for _, f := range extra {
		errs = append(errs, fmt.Errorf("%s: field %q is not valid for this op", op.Op, f))
	}

	return errs
}
