// Package inkpad implements the document model of a rich-text editor: an
// extensible node/mark schema with two stateful extensions, wiki-style
// cross-document links and inline executable code blocks.
package inkpad

import (
	"fmt"
	"sort"
)

// AttributeSpec declares one typed attribute of a custom element.
type AttributeSpec struct {
	// Default is applied when an element is created without an explicit
	// value. A nil Default with Required set means creation must supply the
	// attribute.
	Default  any
	Required bool

	// Parse converts the persisted string form into the attribute value.
	// Optional; the identity conversion is used when nil.
	Parse func(raw string) (any, error)

	// Serialize converts the attribute value into its persisted string
	// form. Optional; fmt.Sprint is used when nil.
	Serialize func(v any) string
}

// Attribute pairs an attribute name with its spec. Declarations use a slice
// rather than a map so duplicate names are caught at registration time.
type Attribute struct {
	Name string
	Spec AttributeSpec
}

// NodeSpec declares a block-level element type.
type NodeSpec struct {
	Type  string
	Attrs []Attribute

	// TextBlock marks node types whose content is a run of text that can
	// carry marks.
	TextBlock bool
}

// MarkSpec declares an inline annotation type.
type MarkSpec struct {
	Type  string
	Attrs []Attribute

	// Exclusive marks cannot overlap another mark of the same type;
	// applying a new one over a span that already carries one replaces it.
	Exclusive bool
}

// Schema is the registry of element types a document may contain. The schema
// is closed: attributes not declared here are dropped on creation and on
// serialization.
type Schema struct {
	nodes map[string]*nodeType
	marks map[string]*markType
}

type nodeType struct {
	spec  NodeSpec
	attrs map[string]AttributeSpec
}

type markType struct {
	spec  MarkSpec
	attrs map[string]AttributeSpec
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{
		nodes: make(map[string]*nodeType),
		marks: make(map[string]*markType),
	}
}

// AddNode registers a node type. Registering the same type twice, or a spec
// declaring two attributes with the same name, is rejected.
func (s *Schema) AddNode(spec NodeSpec) error {
	if spec.Type == "" {
		return NewValidationError("schema", "node type tag is required")
	}
	if _, ok := s.nodes[spec.Type]; ok {
		return NewValidationError("schema", fmt.Sprintf("node type %q already registered", spec.Type))
	}
	attrs, err := buildAttrs(spec.Type, spec.Attrs)
	if err != nil {
		return err
	}
	s.nodes[spec.Type] = &nodeType{spec: spec, attrs: attrs}
	return nil
}

// AddMark registers a mark type with the same duplicate rules as AddNode.
func (s *Schema) AddMark(spec MarkSpec) error {
	if spec.Type == "" {
		return NewValidationError("schema", "mark type tag is required")
	}
	if _, ok := s.marks[spec.Type]; ok {
		return NewValidationError("schema", fmt.Sprintf("mark type %q already registered", spec.Type))
	}
	attrs, err := buildAttrs(spec.Type, spec.Attrs)
	if err != nil {
		return err
	}
	s.marks[spec.Type] = &markType{spec: spec, attrs: attrs}
	return nil
}

func buildAttrs(element string, decls []Attribute) (map[string]AttributeSpec, error) {
	attrs := make(map[string]AttributeSpec, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			return nil, NewValidationError(element, "attribute name is required")
		}
		if _, ok := attrs[d.Name]; ok {
			return nil, NewValidationError(element, fmt.Sprintf("duplicate attribute %q", d.Name)).WithField(d.Name)
		}
		attrs[d.Name] = d.Spec
	}
	return attrs, nil
}

// HasNode reports whether a node type is registered.
func (s *Schema) HasNode(typeTag string) bool {
	_, ok := s.nodes[typeTag]
	return ok
}

// HasMark reports whether a mark type is registered.
func (s *Schema) HasMark(typeTag string) bool {
	_, ok := s.marks[typeTag]
	return ok
}

// MarkExclusive reports whether marks of the given type replace rather than
// stack when applied over the same span.
func (s *Schema) MarkExclusive(typeTag string) bool {
	mt, ok := s.marks[typeTag]
	return ok && mt.spec.Exclusive
}

// NodeAttrs applies defaults and drops undeclared attributes for a node of
// the given type. Missing required attributes without defaults are an error.
func (s *Schema) NodeAttrs(typeTag string, given map[string]any) (map[string]any, error) {
	nt, ok := s.nodes[typeTag]
	if !ok {
		return nil, NewValidationError("schema", fmt.Sprintf("unknown node type %q", typeTag))
	}
	return conformAttrs(typeTag, nt.attrs, given)
}

// MarkAttrs is NodeAttrs for mark types.
func (s *Schema) MarkAttrs(typeTag string, given map[string]any) (map[string]any, error) {
	mt, ok := s.marks[typeTag]
	if !ok {
		return nil, NewValidationError("schema", fmt.Sprintf("unknown mark type %q", typeTag))
	}
	return conformAttrs(typeTag, mt.attrs, given)
}

func conformAttrs(element string, declared map[string]AttributeSpec, given map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(declared))
	for name, spec := range declared {
		if v, ok := given[name]; ok {
			out[name] = v
			continue
		}
		if spec.Default != nil || !spec.Required {
			out[name] = spec.Default
			continue
		}
		return nil, NewValidationError(element, "missing required attribute").WithField(name)
	}
	// Anything in given but not declared is silently dropped: the schema is
	// closed and attribute leakage across extensions is not allowed.
	return out, nil
}

// SerializeAttr renders one attribute of a node or mark type to its persisted
// string form.
func (s *Schema) SerializeAttr(typeTag, name string, v any) string {
	var spec AttributeSpec
	if nt, ok := s.nodes[typeTag]; ok {
		spec = nt.attrs[name]
	} else if mt, ok := s.marks[typeTag]; ok {
		spec = mt.attrs[name]
	}
	if spec.Serialize != nil {
		return spec.Serialize(v)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// ParseAttr converts one persisted attribute string back into its value.
func (s *Schema) ParseAttr(typeTag, name, raw string) (any, error) {
	var spec AttributeSpec
	if nt, ok := s.nodes[typeTag]; ok {
		spec = nt.attrs[name]
	} else if mt, ok := s.marks[typeTag]; ok {
		spec = mt.attrs[name]
	}
	if spec.Parse != nil {
		return spec.Parse(raw)
	}
	return raw, nil
}

// NodeTypes returns the registered node type tags in sorted order.
func (s *Schema) NodeTypes() []string {
	tags := make([]string, 0, len(s.nodes))
	for tag := range s.nodes {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// MarkTypes returns the registered mark type tags in sorted order.
func (s *Schema) MarkTypes() []string {
	tags := make([]string, 0, len(s.marks))
	for tag := range s.marks {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// DefaultSchema returns a schema with the built-in element types registered:
// paragraphs, code fences, the wiki-link mark, and the executable code block.
func DefaultSchema() *Schema {
	s := NewSchema()
	// Registration of built-in specs cannot fail; the specs are static.
	must(s.AddNode(NodeSpec{Type: ParagraphType, TextBlock: true}))
	must(s.AddNode(NodeSpec{
		Type:  CodeFenceType,
		Attrs: []Attribute{{Name: "language", Spec: AttributeSpec{Default: ""}}},
	}))
	must(s.AddNode(execBlockSpec()))
	must(s.AddMark(wikiLinkSpec()))
	return s
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
