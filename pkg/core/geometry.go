// Package core provides the shared resolution model types for tapresolver.
package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is a screen coordinate in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Bounds represents element position and size.
// Bounds is comparable and is used directly as a rectangle identity key.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoundsFromCorners builds Bounds from left/top/right/bottom edges.
// Inverted edges collapse to a zero-sized rectangle at the left/top corner.
func BoundsFromCorners(left, top, right, bottom int) Bounds {
	w, h := right-left, bottom-top
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return Bounds{X: left, Y: top, Width: w, Height: h}
}

// Right returns the exclusive right edge.
func (b Bounds) Right() int { return b.X + b.Width }

// Bottom returns the exclusive bottom edge.
func (b Bounds) Bottom() int { return b.Y + b.Height }

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// CenterPoint returns Center as a Point.
func (b Bounds) CenterPoint() Point {
	x, y := b.Center()
	return Point{X: x, Y: y}
}

// Area returns Width*Height.
func (b Bounds) Area() int64 {
	return int64(b.Width) * int64(b.Height)
}

// IsEmpty reports whether the rectangle has no area.
func (b Bounds) IsEmpty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// String renders the bounds in UIAutomator notation: [x1,y1][x2,y2].
func (b Bounds) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.X, b.Y, b.Right(), b.Bottom())
}

// ParseBounds parses Android bounds string "[x1,y1][x2,y2]" to Bounds.
// Malformed input yields the zero rectangle.
func ParseBounds(s string) Bounds {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return Bounds{}
	}
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Bounds{}
		}
		v[i] = n
	}
	if v[2] < v[0] || v[3] < v[1] {
		return Bounds{}
	}
	return BoundsFromCorners(v[0], v[1], v[2], v[3])
}
