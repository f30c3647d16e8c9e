package resolver

import (
	"strings"

	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/scoring"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// matchText reports whether value satisfies m. Comparison is on normalised
// text; Contains and In are substring tests. An empty matcher matches.
func matchText(m *flow.TextMatcher, value string) bool {
	if m.IsEmpty() {
		return true
	}
	v := scoring.Normalize(value)
	if m.Equals != "" && v != scoring.Normalize(m.Equals) {
		return false
	}
	if m.Contains != "" && !strings.Contains(v, scoring.Normalize(m.Contains)) {
		return false
	}
	if len(m.In) > 0 {
		found := false
		for _, s := range m.In {
			if want := scoring.Normalize(s); want != "" && (v == want || strings.Contains(v, want)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchNode reports whether n satisfies every condition in m.
// Text conditions accept either the node's text or its description.
func matchNode(m *flow.Matcher, n *snapshot.Node) bool {
	if m.ResourceID != "" && !scoring.IdentifierEqual(m.ResourceID, n.ResourceID) {
		return false
	}
	if !m.Text.IsEmpty() && !matchText(m.Text, n.Text) && !matchText(m.Text, n.ContentDesc) {
		return false
	}
	if !m.Description.IsEmpty() && !matchText(m.Description, scoring.DescriptionCore(n.ContentDesc)) {
		return false
	}
	if m.Class != "" && !classEqual(m.Class, n) {
		return false
	}
	if m.Clickable != nil && n.Clickable != *m.Clickable {
		return false
	}
	if m.Enabled != nil && n.Enabled != *m.Enabled {
		return false
	}
	return true
}

// matchParent reports whether n satisfies the ancestor constraint.
func matchParent(p *flow.ParentConstraint, n *snapshot.Node) bool {
	if p.Class != "" && !classEqual(p.Class, n) {
		return false
	}
	if p.ResourceID != "" && !scoring.IdentifierEqual(p.ResourceID, n.ResourceID) {
		return false
	}
	if p.Clickable != nil && n.Clickable != *p.Clickable {
		return false
	}
	if p.Enabled != nil && n.Enabled != *p.Enabled {
		return false
	}
	return true
}

// classEqual compares a class name given either fully qualified or short.
func classEqual(want string, n *snapshot.Node) bool {
	if want == n.ClassName {
		return true
	}
	if !strings.Contains(want, ".") {
		return strings.EqualFold(want, n.ShortClass())
	}
	return false
}

// clickableTarget returns n if clickable, otherwise its nearest clickable
// ancestor, otherwise n itself.
func clickableTarget(snap *snapshot.Snapshot, n *snapshot.Node) *snapshot.Node {
	if n.Clickable {
		return n
	}
	for _, a := range snap.Ancestors(n) {
		if a.Clickable {
			return a
		}
	}
	return n
}

// walkToParent walks from n (included) towards the root and returns the
// first node satisfying p. The walk stops after maxLevels steps (0 means
// unbounded) and never climbs above stop when stop is non-nil.
func walkToParent(snap *snapshot.Snapshot, n *snapshot.Node, p *flow.ParentConstraint, maxLevels int, stop *snapshot.Node) *snapshot.Node {
	for level, cur := 0, n; cur != nil; level, cur = level+1, snap.ParentOf(cur) {
		if maxLevels > 0 && level > maxLevels {
			return nil
		}
		if matchParent(p, cur) {
			return cur
		}
		if stop != nil && cur.Index == stop.Index {
			return nil
		}
	}
	return nil
}

// findContainers returns every node identified by c, in document order.
func findContainers(snap *snapshot.Snapshot, c *flow.Container) []*snapshot.Node {
	switch {
	case c.Path != "":
		if n := snap.ByPath(c.Path); n != nil {
			return []*snapshot.Node{n}
		}
		return nil
	case c.ResourceID != "":
		if hits := snap.ByResourceID(c.ResourceID); len(hits) > 0 {
			return hits
		}
		return snap.Filter(func(n *snapshot.Node) bool {
			return scoring.IdentifierEqual(c.ResourceID, n.ResourceID)
		})
	case len(c.ClassChain) > 0:
		return snap.Filter(func(n *snapshot.Node) bool {
			return matchClassChain(snap, n, c.ClassChain)
		})
	}
	return nil
}

// matchClassChain reports whether n and its consecutive ancestors carry the
// classes of chain, read from the outermost entry down to n.
func matchClassChain(snap *snapshot.Snapshot, n *snapshot.Node, chain []string) bool {
	cur := n
	for i := len(chain) - 1; i >= 0; i-- {
		if cur == nil || !classEqual(chain[i], cur) {
			return false
		}
		cur = snap.ParentOf(cur)
	}
	return true
}

// runCheck evaluates one light check against n and its descendants.
func runCheck(snap *snapshot.Snapshot, n *snapshot.Node, c flow.LightCheck) bool {
	switch c.Type {
	case flow.CheckClickable:
		return n.Clickable
	case flow.CheckEnabled:
		return n.Enabled
	case flow.CheckClassEquals:
		return c.Value != "" && classEqual(c.Value, n)
	case flow.CheckTextEquals:
		want := scoring.Normalize(c.Value)
		return want != "" && scoring.Normalize(n.Label()) == want
	case flow.CheckChildTextContains:
		return subtreeContains(snap, n, []string{c.Value})
	case flow.CheckChildTextContainsAny:
		values := c.Values
		if c.Value != "" {
			values = append([]string{c.Value}, values...)
		}
		return subtreeContains(snap, n, values)
	}
	return false
}

func subtreeContains(snap *snapshot.Snapshot, n *snapshot.Node, values []string) bool {
	var wants []string
	for _, v := range values {
		if w := scoring.Normalize(v); w != "" {
			wants = append(wants, w)
		}
	}
	if len(wants) == 0 {
		return false
	}
	nodes := append([]*snapshot.Node{n}, snap.Descendants(n)...)
	for _, d := range nodes {
		text := scoring.Normalize(d.Text)
		desc := scoring.Normalize(d.ContentDesc)
		for _, w := range wants {
			if strings.Contains(text, w) || strings.Contains(desc, w) {
				return true
			}
		}
	}
	return false
}

// countChecks runs checks against n and returns how many passed.
func countChecks(snap *snapshot.Snapshot, n *snapshot.Node, checks []flow.LightCheck) int {
	passed := 0
	for _, c := range checks {
		if runCheck(snap, n, c) {
			passed++
		}
	}
	return passed
}
