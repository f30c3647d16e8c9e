package snapshot

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devicelab-dev/tapresolver/pkg/core"
)

// Snapshot is an immutable, indexed UI hierarchy.
type Snapshot struct {
	Hash  string
	Nodes []*Node

	byPath       map[string]int
	byIndexPath  map[string]int
	byResourceID map[string][]int
	byClass      map[string][]int
	byText       map[string][]int
	byDesc       map[string][]int
}

// frame is one open element on the parse stack.
type frame struct {
	node       *Node
	classCount map[string]int
}

// Parse parses a UIAutomator dump into an indexed Snapshot.
// Supports both formats:
// - UIAutomator dump: <node class="..."> elements
// - class name as element tag (e.g., <android.widget.FrameLayout>)
//
// Parent/child links come from a single pass over the token stream with a
// depth-indexed stack. Malformed bounds yield a zero rectangle. A broken
// fragment is skipped: decoding resumes at the next <node> with the stack
// intact, so nesting right after the break is best effort. Only a dump with
// no nodes at all is rejected.
func Parse(raw string) (*Snapshot, error) {
	s := &Snapshot{
		Hash:         ContentHash(raw),
		byPath:       make(map[string]int),
		byIndexPath:  make(map[string]int),
		byResourceID: make(map[string][]int),
		byClass:      make(map[string][]int),
		byText:       make(map[string][]int),
		byDesc:       make(map[string][]int),
	}

	b := &builder{snap: s, top: frame{classCount: make(map[string]int)}}
	var parseErr error
	for start := 0; start < len(raw); {
		off, err := b.decode(raw[start:])
		if err == nil {
			break
		}
		parseErr = err

		from := start + int(off)
		if from <= start {
			from = start + 1
		}
		next := strings.Index(raw[from:], "<node")
		if next < 0 {
			break
		}
		start = from + next
	}

	if len(s.Nodes) == 0 {
		if parseErr != nil {
			return nil, fmt.Errorf("invalid page source: %w", parseErr)
		}
		return nil, fmt.Errorf("invalid page source: no nodes found")
	}
	return s, nil
}

// builder carries the open-element stack across decoder restarts.
type builder struct {
	snap        *Snapshot
	stack       []frame
	top         frame
	topChildren int
}

// decode feeds one run of tokens into the snapshot. It returns nil at the
// end of input, or the syntax error and the offset where decoding stopped.
func (b *builder) decode(fragment string) (int64, error) {
	decoder := xml.NewDecoder(strings.NewReader(fragment))
	decoder.Strict = false

	for {
		token, err := decoder.RawToken()
		if err == io.EOF {
			return decoder.InputOffset(), nil
		}
		if err != nil {
			return decoder.InputOffset(), err
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "hierarchy" {
				continue
			}
			b.open(newNode(t))

		case xml.EndElement:
			if t.Name.Local == "hierarchy" {
				continue
			}
			if len(b.stack) > 0 {
				b.stack = b.stack[:len(b.stack)-1]
			}
		}
	}
}

func (b *builder) open(n *Node) {
	n.Index = len(b.snap.Nodes)
	n.Depth = len(b.stack)

	parentFrame := &b.top
	rank := b.topChildren
	n.Parent = -1
	var parentPath string
	if len(b.stack) > 0 {
		parentFrame = &b.stack[len(b.stack)-1]
		p := parentFrame.node
		n.Parent = p.Index
		rank = len(p.Children)
		p.Children = append(p.Children, n.Index)
		n.IndexPath = append(append(make([]int, 0, len(p.IndexPath)+1), p.IndexPath...), rank)
		parentPath = p.Path
	} else {
		b.topChildren++
		n.IndexPath = []int{rank}
	}
	parentFrame.classCount[n.ClassName]++
	n.Path = fmt.Sprintf("%s/%s[%d]", parentPath, n.ClassName, parentFrame.classCount[n.ClassName])

	b.snap.add(n)
	b.stack = append(b.stack, frame{node: n, classCount: make(map[string]int)})
}

func newNode(t xml.StartElement) *Node {
	n := &Node{ClassName: t.Name.Local}
	if t.Name.Local == "node" {
		n.ClassName = ""
	}
	for _, attr := range t.Attr {
		switch attr.Name.Local {
		case "text":
			n.Text = attr.Value
		case "resource-id":
			n.ResourceID = attr.Value
		case "content-desc":
			n.ContentDesc = attr.Value
		case "hint":
			n.HintText = attr.Value
		case "class":
			n.ClassName = attr.Value
		case "package":
			n.Package = attr.Value
		case "bounds":
			n.Bounds = core.ParseBounds(attr.Value)
		case "enabled":
			n.Enabled = attr.Value == "true"
		case "clickable":
			n.Clickable = attr.Value == "true"
		case "long-clickable":
			n.LongClickable = attr.Value == "true"
		case "scrollable":
			n.Scrollable = attr.Value == "true"
		case "checkable":
			n.Checkable = attr.Value == "true"
		case "checked":
			n.Checked = attr.Value == "true"
		case "selected":
			n.Selected = attr.Value == "true"
		case "focused":
			n.Focused = attr.Value == "true"
		}
	}
	return n
}

func (s *Snapshot) add(n *Node) {
	s.Nodes = append(s.Nodes, n)
	s.byPath[n.Path] = n.Index
	s.byIndexPath[IndexPathKey(n.IndexPath)] = n.Index
	if n.ResourceID != "" {
		s.byResourceID[n.ResourceID] = append(s.byResourceID[n.ResourceID], n.Index)
	}
	if n.ClassName != "" {
		s.byClass[n.ClassName] = append(s.byClass[n.ClassName], n.Index)
	}
	if n.Text != "" {
		s.byText[n.Text] = append(s.byText[n.Text], n.Index)
	}
	if n.ContentDesc != "" {
		s.byDesc[n.ContentDesc] = append(s.byDesc[n.ContentDesc], n.Index)
	}
}

// Len returns the number of nodes.
func (s *Snapshot) Len() int { return len(s.Nodes) }

// Node returns the node at position i, or nil.
func (s *Snapshot) Node(i int) *Node {
	if i < 0 || i >= len(s.Nodes) {
		return nil
	}
	return s.Nodes[i]
}

// ParentOf returns n's parent, or nil for a top-level node.
func (s *Snapshot) ParentOf(n *Node) *Node {
	return s.Node(n.Parent)
}

// ChildrenOf returns n's direct children in sibling order.
func (s *Snapshot) ChildrenOf(n *Node) []*Node {
	return s.resolve(n.Children)
}

// Ancestors returns n's ancestors, nearest first.
func (s *Snapshot) Ancestors(n *Node) []*Node {
	var out []*Node
	for p := s.ParentOf(n); p != nil; p = s.ParentOf(p) {
		out = append(out, p)
	}
	return out
}

// Descendants returns every node below n in document order.
// Pre-order numbering makes the subtree a contiguous run after n.
func (s *Snapshot) Descendants(n *Node) []*Node {
	var out []*Node
	for i := n.Index + 1; i < len(s.Nodes) && s.Nodes[i].Depth > n.Depth; i++ {
		out = append(out, s.Nodes[i])
	}
	return out
}

// IsAncestor reports whether anc is a proper ancestor of n.
func (s *Snapshot) IsAncestor(anc, n *Node) bool {
	if anc.Index >= n.Index || anc.Depth >= n.Depth {
		return false
	}
	for p := s.ParentOf(n); p != nil; p = s.ParentOf(p) {
		if p.Index == anc.Index {
			return true
		}
		if p.Depth <= anc.Depth {
			return false
		}
	}
	return false
}

// Siblings returns the children of n's parent, n included.
func (s *Snapshot) Siblings(n *Node) []*Node {
	if p := s.ParentOf(n); p != nil {
		return s.ChildrenOf(p)
	}
	var out []*Node
	for _, m := range s.Nodes {
		if m.Parent == -1 {
			out = append(out, m)
		}
	}
	return out
}

// ByPath returns the node with the exact generated path, or nil.
func (s *Snapshot) ByPath(path string) *Node {
	if i, ok := s.byPath[path]; ok {
		return s.Nodes[i]
	}
	return nil
}

// ByIndexPath returns the node at the given index path, or nil.
func (s *Snapshot) ByIndexPath(path []int) *Node {
	if i, ok := s.byIndexPath[IndexPathKey(path)]; ok {
		return s.Nodes[i]
	}
	return nil
}

// ByResourceID returns nodes with exactly this resource id, in document order.
func (s *Snapshot) ByResourceID(id string) []*Node { return s.resolve(s.byResourceID[id]) }

// ByClass returns nodes with exactly this class name, in document order.
func (s *Snapshot) ByClass(class string) []*Node { return s.resolve(s.byClass[class]) }

// ByText returns nodes with exactly this text, in document order.
func (s *Snapshot) ByText(text string) []*Node { return s.resolve(s.byText[text]) }

// ByDescription returns nodes with exactly this content-desc, in document order.
func (s *Snapshot) ByDescription(desc string) []*Node { return s.resolve(s.byDesc[desc]) }

// Filter returns nodes matching pred, in document order.
func (s *Snapshot) Filter(pred func(*Node) bool) []*Node {
	var out []*Node
	for _, n := range s.Nodes {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

// ScreenBounds returns the bounds of the first top-level node with a
// non-empty rectangle, which is the window size in a UIAutomator dump.
func (s *Snapshot) ScreenBounds() core.Bounds {
	for _, n := range s.Nodes {
		if n.Parent == -1 && !n.Bounds.IsEmpty() {
			return n.Bounds
		}
	}
	return core.Bounds{}
}

func (s *Snapshot) resolve(idx []int) []*Node {
	if len(idx) == 0 {
		return nil
	}
	out := make([]*Node, len(idx))
	for i, j := range idx {
		out[i] = s.Nodes[j]
	}
	return out
}

// String summarises the snapshot for logs.
func (s *Snapshot) String() string {
	h := s.Hash
	if len(h) > 12 {
		h = h[:12]
	}
	return "snapshot " + h + " (" + strconv.Itoa(len(s.Nodes)) + " nodes)"
}
