package flow

import (
	"fmt"
	"sort"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"gopkg.in/yaml.v3"
)

// Kind identifies a rung of the strategy ladder. The numeric order is the
// ladder order: rungs are always tried from KindSelfID down to KindBoundsTap.
type Kind int

// Kind values
const (
	KindSelfID Kind = iota
	KindSelfDesc
	KindChildToParent
	KindRegionTextToParent
	KindRegionLocalIndex
	KindNeighborRelative
	KindGlobalIndex
	KindBoundsTap
)

var kindNames = [...]string{
	KindSelfID:             "self_id",
	KindSelfDesc:           "self_desc",
	KindChildToParent:      "child_to_parent",
	KindRegionTextToParent: "region_text_to_parent",
	KindRegionLocalIndex:   "region_local_index_with_check",
	KindNeighborRelative:   "neighbor_relative",
	KindGlobalIndex:        "global_index_with_strong_checks",
	KindBoundsTap:          "bounds_tap",
}

// String returns the string representation of Kind
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// IsTreeBased reports whether the rung needs a live tree.
func (k Kind) IsTreeBased() bool { return k != KindBoundsTap }

// ParseKind converts a kind name to Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown strategy kind %q", s)
}

// Variant is one concrete rung of the ladder. The set of implementations is
// closed: SelfID, SelfDesc, ChildToParent, RegionTextToParent,
// RegionLocalIndex, NeighborRelative, GlobalIndex, BoundsTap.
type Variant interface {
	Kind() Kind
	Base() *VariantBase
	isVariant()
}

// VariantBase holds the fields every variant carries.
type VariantBase struct {
	ID          string       `yaml:"id,omitempty"`
	StaticScore float64      `yaml:"staticScore,omitempty"`
	Checks      []LightCheck `yaml:"checks,omitempty"`
	Explain     string       `yaml:"explain,omitempty"`
}

// Base returns the shared fields.
func (b *VariantBase) Base() *VariantBase { return b }

func (*VariantBase) isVariant() {}

// SelfID looks the target up by resource id. An empty ResourceID means the
// evidence's identifier.
type SelfID struct {
	VariantBase
	ResourceID string
}

// SelfDesc looks the target up by the semantic core of its description.
type SelfDesc struct {
	VariantBase
	Description string
}

// ChildToParent finds an anchor by its content, then walks up to the
// ancestor satisfying Parent.
type ChildToParent struct {
	VariantBase
	Child     Matcher
	Parent    ParentConstraint
	MaxLevels int
}

// RegionTextToParent is ChildToParent restricted to a container.
type RegionTextToParent struct {
	VariantBase
	Container Container
	Child     Matcher
	Parent    ParentConstraint
	MaxLevels int
}

// RegionLocalIndex picks the Nth (1-based) match inside a container. At
// least one light check must pass.
type RegionLocalIndex struct {
	VariantBase
	Container Container
	Self      Matcher
	Index     int
}

// NeighborRelative finds an anchor, then moves along Structure to the target.
type NeighborRelative struct {
	VariantBase
	Anchor    Matcher
	Structure StructureHint
	Self      Matcher
}

// GlobalIndex picks the Nth (1-based) match on the whole screen under strong
// checks: class, clickable, enabled and at least one content check.
type GlobalIndex struct {
	VariantBase
	Self  Matcher
	Index int
}

// BoundsTap taps the recorded rectangle. A nil Bounds means the evidence's.
type BoundsTap struct {
	VariantBase
	Bounds *core.Bounds
}

// Kind implementations
func (*SelfID) Kind() Kind             { return KindSelfID }
func (*SelfDesc) Kind() Kind           { return KindSelfDesc }
func (*ChildToParent) Kind() Kind      { return KindChildToParent }
func (*RegionTextToParent) Kind() Kind { return KindRegionTextToParent }
func (*RegionLocalIndex) Kind() Kind   { return KindRegionLocalIndex }
func (*NeighborRelative) Kind() Kind   { return KindNeighborRelative }
func (*GlobalIndex) Kind() Kind        { return KindGlobalIndex }
func (*BoundsTap) Kind() Kind          { return KindBoundsTap }

// NewSelfID creates a SelfID variant.
func NewSelfID(id string) *SelfID {
	return &SelfID{VariantBase: VariantBase{ID: "self_id"}, ResourceID: id}
}

// NewSelfDesc creates a SelfDesc variant.
func NewSelfDesc(desc string) *SelfDesc {
	return &SelfDesc{VariantBase: VariantBase{ID: "self_desc"}, Description: desc}
}

// NewChildToParent creates a ChildToParent variant.
func NewChildToParent(child Matcher, parent ParentConstraint) *ChildToParent {
	return &ChildToParent{VariantBase: VariantBase{ID: "child_to_parent"}, Child: child, Parent: parent}
}

// NewRegionTextToParent creates a RegionTextToParent variant.
func NewRegionTextToParent(container Container, child Matcher, parent ParentConstraint) *RegionTextToParent {
	return &RegionTextToParent{
		VariantBase: VariantBase{ID: "region_text_to_parent"},
		Container:   container, Child: child, Parent: parent,
	}
}

// NewRegionLocalIndex creates a RegionLocalIndex variant.
func NewRegionLocalIndex(container Container, self Matcher, index int, checks ...LightCheck) *RegionLocalIndex {
	return &RegionLocalIndex{
		VariantBase: VariantBase{ID: "region_local_index", Checks: checks},
		Container:   container, Self: self, Index: index,
	}
}

// NewNeighborRelative creates a NeighborRelative variant.
func NewNeighborRelative(anchor Matcher, hint StructureHint, self Matcher) *NeighborRelative {
	return &NeighborRelative{VariantBase: VariantBase{ID: "neighbor_relative"}, Anchor: anchor, Structure: hint, Self: self}
}

// NewGlobalIndex creates a GlobalIndex variant.
func NewGlobalIndex(self Matcher, index int, checks ...LightCheck) *GlobalIndex {
	return &GlobalIndex{VariantBase: VariantBase{ID: "global_index", Checks: checks}, Self: self, Index: index}
}

// NewBoundsTap creates a BoundsTap variant.
func NewBoundsTap(b *core.Bounds) *BoundsTap {
	return &BoundsTap{VariantBase: VariantBase{ID: "bounds_tap"}, Bounds: b}
}

// SortVariants orders variants by ladder position, then by static score
// (highest first). The sort is stable so equal variants keep file order.
func SortVariants(vs []Variant) {
	sort.SliceStable(vs, func(i, j int) bool {
		ki, kj := vs[i].Kind(), vs[j].Kind()
		if ki != kj {
			return ki < kj
		}
		return vs[i].Base().StaticScore > vs[j].Base().StaticScore
	})
}

// variantRaw is used for YAML parsing of any variant kind.
type variantRaw struct {
	VariantBase `yaml:",inline"`
	Kind        string           `yaml:"kind"`
	ResourceID  string           `yaml:"resourceId,omitempty"`
	Description string           `yaml:"desc,omitempty"`
	Container   Container        `yaml:"container,omitempty"`
	Child       Matcher          `yaml:"child,omitempty"`
	Parent      ParentConstraint `yaml:"parent,omitempty"`
	Anchor      Matcher          `yaml:"anchor,omitempty"`
	Self        Matcher          `yaml:"self,omitempty"`
	Structure   StructureHint    `yaml:"structure,omitempty"`
	Index       int              `yaml:"index,omitempty"`
	MaxLevels   int              `yaml:"maxLevels,omitempty"`
	Bounds      string           `yaml:"bounds,omitempty"`
}

// DecodeVariant builds the concrete variant named by the node's kind field.
func DecodeVariant(node *yaml.Node) (Variant, error) {
	var raw variantRaw
	if node.Kind == yaml.ScalarNode {
		raw.Kind = node.Value
	} else if err := node.Decode(&raw); err != nil {
		return nil, err
	}

	kind, err := ParseKind(raw.Kind)
	if err != nil {
		return nil, err
	}
	for _, c := range raw.Checks {
		if !c.IsKnown() {
			return nil, fmt.Errorf("%s: unknown check type %q", kind, c.Type)
		}
	}
	base := raw.VariantBase
	if base.ID == "" {
		base.ID = kind.String()
	}

	switch kind {
	case KindSelfID:
		return &SelfID{VariantBase: base, ResourceID: raw.ResourceID}, nil
	case KindSelfDesc:
		return &SelfDesc{VariantBase: base, Description: raw.Description}, nil
	case KindChildToParent:
		if raw.Child.IsEmpty() {
			return nil, fmt.Errorf("%s: child matcher is required", kind)
		}
		return &ChildToParent{VariantBase: base, Child: raw.Child, Parent: raw.Parent, MaxLevels: raw.MaxLevels}, nil
	case KindRegionTextToParent:
		if raw.Container.IsEmpty() || raw.Child.IsEmpty() {
			return nil, fmt.Errorf("%s: container and child matcher are required", kind)
		}
		return &RegionTextToParent{VariantBase: base, Container: raw.Container, Child: raw.Child, Parent: raw.Parent, MaxLevels: raw.MaxLevels}, nil
	case KindRegionLocalIndex:
		if raw.Container.IsEmpty() || raw.Index < 1 {
			return nil, fmt.Errorf("%s: container and a 1-based index are required", kind)
		}
		return &RegionLocalIndex{VariantBase: base, Container: raw.Container, Self: raw.Self, Index: raw.Index}, nil
	case KindNeighborRelative:
		if raw.Anchor.IsEmpty() {
			return nil, fmt.Errorf("%s: anchor matcher is required", kind)
		}
		if err := validateStructure(raw.Structure); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return &NeighborRelative{VariantBase: base, Anchor: raw.Anchor, Structure: raw.Structure, Self: raw.Self}, nil
	case KindGlobalIndex:
		if raw.Index < 1 {
			return nil, fmt.Errorf("%s: a 1-based index is required", kind)
		}
		return &GlobalIndex{VariantBase: base, Self: raw.Self, Index: raw.Index}, nil
	case KindBoundsTap:
		v := &BoundsTap{VariantBase: base}
		if raw.Bounds != "" {
			b := core.ParseBounds(raw.Bounds)
			if b.IsEmpty() {
				return nil, fmt.Errorf("%s: invalid bounds %q", kind, raw.Bounds)
			}
			v.Bounds = &b
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown strategy kind %q", raw.Kind)
}

func validateStructure(h StructureHint) error {
	switch h.Relation {
	case RelationParentChild, RelationAncestorDescendant, RelationSibling:
	case "":
		return fmt.Errorf("structure.relation is required")
	default:
		return fmt.Errorf("unknown relation %q", h.Relation)
	}
	switch h.Direction {
	case DirectionUp, DirectionDown, DirectionNext, DirectionPrev:
	case "":
		return fmt.Errorf("structure.direction is required")
	default:
		return fmt.Errorf("unknown direction %q", h.Direction)
	}
	if h.Relation == RelationSibling && (h.Direction == DirectionUp || h.Direction == DirectionDown) {
		return fmt.Errorf("sibling relation needs next or prev, got %q", h.Direction)
	}
	if h.Relation != RelationSibling && (h.Direction == DirectionNext || h.Direction == DirectionPrev) {
		return fmt.Errorf("%s relation needs up or down, got %q", h.Relation, h.Direction)
	}
	if h.Levels < 0 {
		return fmt.Errorf("structure.levels must not be negative")
	}
	return nil
}

// EncodeVariant returns v in the shape DecodeVariant reads, for storage.
func EncodeVariant(v Variant) interface{} {
	raw := variantRaw{VariantBase: *v.Base(), Kind: v.Kind().String()}
	switch v := v.(type) {
	case *SelfID:
		raw.ResourceID = v.ResourceID
	case *SelfDesc:
		raw.Description = v.Description
	case *ChildToParent:
		raw.Child, raw.Parent, raw.MaxLevels = v.Child, v.Parent, v.MaxLevels
	case *RegionTextToParent:
		raw.Container, raw.Child, raw.Parent, raw.MaxLevels = v.Container, v.Child, v.Parent, v.MaxLevels
	case *RegionLocalIndex:
		raw.Container, raw.Self, raw.Index = v.Container, v.Self, v.Index
	case *NeighborRelative:
		raw.Anchor, raw.Structure, raw.Self = v.Anchor, v.Structure, v.Self
	case *GlobalIndex:
		raw.Self, raw.Index = v.Self, v.Index
	case *BoundsTap:
		if v.Bounds != nil {
			raw.Bounds = v.Bounds.String()
		}
	}
	return raw
}
