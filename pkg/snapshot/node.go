// Package snapshot parses UIAutomator hierarchy dumps into an indexed,
// read-only tree and manages reference-counted snapshot storage.
package snapshot

import (
	"strconv"
	"strings"

	"github.com/devicelab-dev/tapresolver/pkg/core"
)

// Node is one element of a parsed hierarchy dump.
// Parent/child links are positions into Snapshot.Nodes, never pointers, so a
// Snapshot can be shared read-only between goroutines.
type Node struct {
	Index     int    // document order (pre-order)
	Parent    int    // -1 for top-level nodes
	Children  []int  // in sibling order
	Depth     int    // 0 for top-level nodes
	IndexPath []int  // 0-based sibling rank at each level from the top
	Path      string // generated path: /class[n]/class[n]/... with 1-based same-class rank

	Text        string
	ResourceID  string
	ContentDesc string
	HintText    string
	ClassName   string
	Package     string
	Bounds      core.Bounds

	Enabled       bool
	Clickable     bool
	LongClickable bool
	Scrollable    bool
	Checkable     bool
	Checked       bool
	Selected      bool
	Focused       bool
}

// ShortClass returns the class name without its package prefix.
func (n *Node) ShortClass() string {
	if i := strings.LastIndex(n.ClassName, "."); i >= 0 {
		return n.ClassName[i+1:]
	}
	return n.ClassName
}

// Label returns the best human-readable label: text, then description.
func (n *Node) Label() string {
	if n.Text != "" {
		return n.Text
	}
	return n.ContentDesc
}

// IndexPathKey renders an index path as "0.2.1".
func IndexPathKey(path []int) string {
	var sb strings.Builder
	for i, p := range path {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(p))
	}
	return sb.String()
}
