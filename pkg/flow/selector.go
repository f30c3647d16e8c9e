package flow

import "gopkg.in/yaml.v3"

// TextMatcher matches a text value by equality, containment or membership.
// Pure data structure - the resolver decides how to normalise and compare.
type TextMatcher struct {
	Equals   string   `yaml:"equals,omitempty"`
	Contains string   `yaml:"contains,omitempty"`
	In       []string `yaml:"in,omitempty"`
}

type textMatcherRaw TextMatcher

// UnmarshalYAML allows TextMatcher to be unmarshaled from string or struct.
// A scalar is shorthand for equals.
func (m *TextMatcher) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*m = TextMatcher{Equals: node.Value}
		return nil
	}
	var raw textMatcherRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*m = TextMatcher(raw)
	return nil
}

// IsEmpty returns true if no condition is set.
func (m *TextMatcher) IsEmpty() bool {
	return m == nil || (m.Equals == "" && m.Contains == "" && len(m.In) == 0)
}

// Matcher selects nodes by their own attributes.
type Matcher struct {
	ResourceID  string       `yaml:"resourceId,omitempty"`
	Text        *TextMatcher `yaml:"text,omitempty"`
	Description *TextMatcher `yaml:"desc,omitempty"`
	Class       string       `yaml:"class,omitempty"`
	Clickable   *bool        `yaml:"clickable,omitempty"`
	Enabled     *bool        `yaml:"enabled,omitempty"`
}

// IsEmpty returns true if no selector properties are set.
func (m *Matcher) IsEmpty() bool {
	return m.ResourceID == "" && m.Text.IsEmpty() && m.Description.IsEmpty() &&
		m.Class == "" && m.Clickable == nil && m.Enabled == nil
}

// HasContent reports whether the matcher constrains text, description or id.
func (m *Matcher) HasContent() bool {
	return m.ResourceID != "" || !m.Text.IsEmpty() || !m.Description.IsEmpty()
}

// ParentConstraint is the condition an ancestor must satisfy to become the
// execution target.
type ParentConstraint struct {
	Class      string `yaml:"class,omitempty"`
	ResourceID string `yaml:"resourceId,omitempty"`
	Clickable  *bool  `yaml:"clickable,omitempty"`
	Enabled    *bool  `yaml:"enabled,omitempty"`
}

// IsEmpty returns true if no condition is set.
func (p *ParentConstraint) IsEmpty() bool {
	return p.Class == "" && p.ResourceID == "" && p.Clickable == nil && p.Enabled == nil
}

// Container identifies a region of the tree by resource id, exact generated
// path, or class-chain signature (outermost class first, container last).
type Container struct {
	ResourceID string   `yaml:"resourceId,omitempty"`
	Path       string   `yaml:"path,omitempty"`
	ClassChain []string `yaml:"classChain,omitempty"`
}

// IsEmpty returns true if no identification is set.
func (c *Container) IsEmpty() bool {
	return c.ResourceID == "" && c.Path == "" && len(c.ClassChain) == 0
}

// Relation is a structural relation between an anchor and the target.
type Relation string

// Relation values
const (
	RelationParentChild        Relation = "parent_child"
	RelationAncestorDescendant Relation = "ancestor_descendant"
	RelationSibling            Relation = "sibling"
)

// Direction says which way to walk from the anchor.
type Direction string

// Direction values
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionNext Direction = "next"
	DirectionPrev Direction = "prev"
)

// StructureHint tells the neighbour rung how to move from anchor to target.
type StructureHint struct {
	Relation  Relation  `yaml:"relation,omitempty"`
	Direction Direction `yaml:"direction,omitempty"`
	Levels    int       `yaml:"levels,omitempty"`
}

// CheckType names a light check.
type CheckType string

// CheckType values
const (
	CheckChildTextContains    CheckType = "child_text_contains"
	CheckChildTextContainsAny CheckType = "child_text_contains_any"
	CheckClickable            CheckType = "clickable"
	CheckEnabled              CheckType = "enabled"
	CheckClassEquals          CheckType = "class_equals"
	CheckTextEquals           CheckType = "text_equals"
)

// LightCheck is a cheap predicate a candidate must pass before an
// index-based rung may accept it.
type LightCheck struct {
	Type   CheckType `yaml:"type,omitempty"`
	Value  string    `yaml:"value,omitempty"`
	Values []string  `yaml:"values,omitempty"`
}

// IsContentCheck reports whether the check inspects text rather than state.
func (c LightCheck) IsContentCheck() bool {
	switch c.Type {
	case CheckChildTextContains, CheckChildTextContainsAny, CheckTextEquals:
		return true
	}
	return false
}

// IsKnown reports whether Type is one of the supported checks.
func (c LightCheck) IsKnown() bool {
	switch c.Type {
	case CheckChildTextContains, CheckChildTextContainsAny, CheckClickable,
		CheckEnabled, CheckClassEquals, CheckTextEquals:
		return true
	}
	return false
}
