package flow

import (
	"fmt"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"gopkg.in/yaml.v3"
)

// Aliases is a list of acceptable text values. It unmarshals from a scalar
// or a sequence.
type Aliases []string

// UnmarshalYAML allows Aliases to be unmarshaled from string or list.
func (a *Aliases) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value == "" {
			*a = nil
			return nil
		}
		*a = Aliases{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*a = list
	return nil
}

// Evidence is the static evidence recorded for one target element.
// Any field may be absent; absence is meaningful to the scorer.
type Evidence struct {
	ResourceID  string
	Text        Aliases
	Description string
	ClassName   string
	Path        string // generated ancestor path at record time
	Bounds      *core.Bounds

	ContainerScoped bool // recorded inside a named container
	ParentClickable bool // the execution target was the nearest clickable ancestor
	LocalIndex      int  // 1-based rank within the container, 0 if unused
	GlobalIndex     int  // 1-based rank on the whole screen, 0 if unused
}

type evidenceRaw struct {
	ResourceID      string  `yaml:"resourceId"`
	ID              string  `yaml:"id"`
	Text            Aliases `yaml:"text"`
	Description     string  `yaml:"desc"`
	ContentDesc     string  `yaml:"contentDesc"`
	ClassName       string  `yaml:"class"`
	Path            string  `yaml:"path"`
	Bounds          string  `yaml:"bounds"`
	ContainerScoped bool    `yaml:"containerScoped"`
	ParentClickable bool    `yaml:"parentClickable"`
	LocalIndex      int     `yaml:"localIndex"`
	GlobalIndex     int     `yaml:"globalIndex"`
}

// UnmarshalYAML allows Evidence to be unmarshaled from a text scalar or a struct.
func (e *Evidence) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = Evidence{Text: Aliases{node.Value}}
		return nil
	}

	var raw evidenceRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}

	e.ResourceID = raw.ResourceID
	if e.ResourceID == "" {
		e.ResourceID = raw.ID
	}
	e.Text = raw.Text
	e.Description = raw.Description
	if e.Description == "" {
		e.Description = raw.ContentDesc
	}
	e.ClassName = raw.ClassName
	e.Path = raw.Path
	e.ContainerScoped = raw.ContainerScoped
	e.ParentClickable = raw.ParentClickable
	e.LocalIndex = raw.LocalIndex
	e.GlobalIndex = raw.GlobalIndex

	if raw.Bounds != "" {
		b := core.ParseBounds(raw.Bounds)
		if b.IsEmpty() {
			return fmt.Errorf("invalid bounds %q", raw.Bounds)
		}
		e.Bounds = &b
	}
	return nil
}

// MarshalYAML writes Evidence in the same shape UnmarshalYAML reads.
func (e Evidence) MarshalYAML() (interface{}, error) {
	raw := evidenceRaw{
		ResourceID:      e.ResourceID,
		Text:            e.Text,
		Description:     e.Description,
		ClassName:       e.ClassName,
		Path:            e.Path,
		ContainerScoped: e.ContainerScoped,
		ParentClickable: e.ParentClickable,
		LocalIndex:      e.LocalIndex,
		GlobalIndex:     e.GlobalIndex,
	}
	if e.Bounds != nil {
		raw.Bounds = e.Bounds.String()
	}
	return evidenceMarshal(raw), nil
}

// evidenceMarshal drops empty fields so stored definitions stay short.
func evidenceMarshal(raw evidenceRaw) map[string]interface{} {
	out := map[string]interface{}{}
	if raw.ResourceID != "" {
		out["resourceId"] = raw.ResourceID
	}
	switch len(raw.Text) {
	case 0:
	case 1:
		out["text"] = raw.Text[0]
	default:
		out["text"] = []string(raw.Text)
	}
	if raw.Description != "" {
		out["desc"] = raw.Description
	}
	if raw.ClassName != "" {
		out["class"] = raw.ClassName
	}
	if raw.Path != "" {
		out["path"] = raw.Path
	}
	if raw.Bounds != "" {
		out["bounds"] = raw.Bounds
	}
	if raw.ContainerScoped {
		out["containerScoped"] = true
	}
	if raw.ParentClickable {
		out["parentClickable"] = true
	}
	if raw.LocalIndex > 0 {
		out["localIndex"] = raw.LocalIndex
	}
	if raw.GlobalIndex > 0 {
		out["globalIndex"] = raw.GlobalIndex
	}
	return out
}

// HasTreeEvidence reports whether any field usable against a live tree is present.
func (e *Evidence) HasTreeEvidence() bool {
	return e.ResourceID != "" || len(e.Text) > 0 || e.Description != "" ||
		e.ClassName != "" || e.Path != ""
}

// IsEmpty returns true if no evidence at all was recorded.
func (e *Evidence) IsEmpty() bool {
	return !e.HasTreeEvidence() && e.Bounds == nil
}

// PrimaryText returns the first text alias or "".
func (e *Evidence) PrimaryText() string {
	if len(e.Text) == 0 {
		return ""
	}
	return e.Text[0]
}

// Describe returns a human-readable description.
func (e *Evidence) Describe() string {
	switch {
	case e.ResourceID != "":
		return "#" + e.ResourceID
	case len(e.Text) > 0:
		return fmt.Sprintf("%q", e.Text[0])
	case e.Description != "":
		return "desc:" + e.Description
	case e.ClassName != "":
		return "class:" + e.ClassName
	case e.Bounds != nil:
		return "bounds:" + e.Bounds.String()
	default:
		return ""
	}
}
