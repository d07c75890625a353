// Package manifest defines the change-manifest document model and its
// loader/composer. A manifest declares an ordered list of operations against
// a remote modeling service, referring to not-yet-created things through
// caller-chosen symbols (tempIds).
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Duplicate-handling strategies accepted by the remote service.
const (
	DuplicateError  = "error"
	DuplicateReuse  = "reuse"
	DuplicateRename = "rename"
)

var (
	idempotencyKeyRe = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	realIDRe         = regexp.MustCompile(`^id-[0-9a-f]{8,}$`)
)

// IsRealID reports whether s matches the remote service's external ID format.
// Real IDs bypass symbol resolution and ordering checks.
func IsRealID(s string) bool {
	return realIDRe.MatchString(s)
}

// Manifest is one change-manifest document as parsed from disk, before
// include composition.
type Manifest struct {
	Version           string      `json:"version"`
	Description       string      `json:"description,omitempty"`
	Includes          []string    `json:"includes,omitempty"`
	IDFiles           []string    `json:"idFiles,omitempty"`
	IdempotencyKey    string      `json:"idempotencyKey,omitempty"`
	DuplicateStrategy string      `json:"duplicateStrategy,omitempty"`
	Changes           []Operation `json:"changes"`
}

// Validate checks document-level fields. Per-operation validation happens
// during decoding (see Operation.UnmarshalJSON) and in the op spec check.
func (m *Manifest) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Version, validation.Required),
		validation.Field(&m.IdempotencyKey, validation.Match(idempotencyKeyRe)),
		validation.Field(&m.DuplicateStrategy, validation.In(DuplicateError, DuplicateReuse, DuplicateRename)),
	)
}

// Bounds is a visual placement rectangle.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Operation is one tagged variant of the closed operation union, keyed by Op.
// Fields are the superset across all kinds; the per-kind spec table
// (opspec.go) decides which are required, which are allowed, and which carry
// symbolic references. Unknown JSON fields are rejected at decode time, and
// fields that do not belong to the declared kind are rejected by CheckShape.
type Operation struct {
	Op                Kind              `json:"op"`
	TempID            string            `json:"tempId,omitempty"`
	ID                string            `json:"id,omitempty"`
	Type              string            `json:"type,omitempty"`
	Name              string            `json:"name,omitempty"`
	Documentation     string            `json:"documentation,omitempty"`
	Source            string            `json:"source,omitempty"`
	Target            string            `json:"target,omitempty"`
	Parent            string            `json:"parent,omitempty"`
	Folder            string            `json:"folder,omitempty"`
	View              string            `json:"view,omitempty"`
	Element           string            `json:"element,omitempty"`
	Relationship      string            `json:"relationship,omitempty"`
	Visual            string            `json:"visual,omitempty"`
	SourceVisual      string            `json:"sourceVisual,omitempty"`
	TargetVisual      string            `json:"targetVisual,omitempty"`
	Into              string            `json:"into,omitempty"`
	Text              string            `json:"text,omitempty"`
	Bounds            *Bounds           `json:"bounds,omitempty"`
	Style             map[string]any    `json:"style,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
	DuplicateStrategy string            `json:"duplicateStrategy,omitempty"`

	// present records which JSON keys appeared in the source document,
	// so CheckShape can reject fields foreign to the kind.
	present map[string]struct{}
}

// Present reports whether the named JSON field appeared in the source
// document for this operation.
func (o *Operation) Present(field string) bool {
	_, ok := o.present[field]
	return ok
}

// opAlias avoids UnmarshalJSON recursion.
type opAlias Operation

// UnmarshalJSON decodes an operation strictly: unknown fields are an error.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var a opAlias
	if err := strictUnmarshal(data, &a); err != nil {
		return err
	}
	*o = Operation(a)
	o.present = make(map[string]struct{}, len(raw))
	for k := range raw {
		o.present[k] = struct{}{}
	}
	return nil
}

// MarshalJSON round-trips the operation without the bookkeeping state.
func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(opAlias(o))
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// Kind identifies one operation variant.
type Kind string

// Concept operations.
const (
	OpCreateElement      Kind = "createElement"
	OpUpdateElement      Kind = "updateElement"
	OpDeleteElement      Kind = "deleteElement"
	OpCreateRelationship Kind = "createRelationship"
	OpUpdateRelationship Kind = "updateRelationship"
	OpDeleteRelationship Kind = "deleteRelationship"
	OpCreateFolder       Kind = "createFolder"
	OpDeleteFolder       Kind = "deleteFolder"
	OpMoveToFolder       Kind = "moveToFolder"
	OpCreateView         Kind = "createView"
	OpUpdateView         Kind = "updateView"
	OpDeleteView         Kind = "deleteView"
)

// Visual operations.
const (
	OpAddElementToView      Kind = "addElementToView"
	OpAddRelationshipToView Kind = "addRelationshipToView"
	OpNestElement           Kind = "nestElement"
	OpMoveVisual            Kind = "moveVisual"
	OpResizeVisual          Kind = "resizeVisual"
	OpStyleVisual           Kind = "styleVisual"
	OpStyleConnection       Kind = "styleConnection"
	OpAddNote               Kind = "addNote"
	OpAddGroup              Kind = "addGroup"
	OpRemoveFromView        Kind = "removeFromView"
)

// Namespace distinguishes the two disjoint symbol namespaces.
type Namespace int

const (
	NamespaceNone Namespace = iota
	NamespaceConcept
	NamespaceVisual
)

func (n Namespace) String() string {
	switch n {
	case NamespaceConcept:
		return "concept"
	case NamespaceVisual:
		return "visual"
	default:
		return "none"
	}
}

// RefField returns a pointer to the named reference-carrying field of op,
// or nil for fields that do not hold references.
func (o *Operation) RefField(field string) *string {
	switch field {
	case "id":
		return &o.ID
	case "source":
		return &o.Source
	case "target":
		return &o.Target
	case "parent":
		return &o.Parent
	case "folder":
		return &o.Folder
	case "view":
		return &o.View
	case "element":
		return &o.Element
	case "relationship":
		return &o.Relationship
	case "visual":
		return &o.Visual
	case "sourceVisual":
		return &o.SourceVisual
	case "targetVisual":
		return &o.TargetVisual
	case "into":
		return &o.Into
	default:
		return nil
	}
}

func (o *Operation) String() string {
	if o.TempID != "" {
		return fmt.Sprintf("%s(%s)", o.Op, o.TempID)
	}
	return string(o.Op)
}
