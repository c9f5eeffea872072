package mot

import (
	"image"
	"math"
)

// Rectangle is an axis-aligned box in pixel coordinates: (X1, Y1) is the top-left
// corner and (X2, Y2) is the bottom-right one.
type Rectangle struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// NewRect creates rectangle from corner coordinates
func NewRect(x1, y1, x2, y2 float64) Rectangle {
	return Rectangle{
		X1: x1,
		Y1: y1,
		X2: x2,
		Y2: y2,
	}
}

// NewRectXYWH creates rectangle from top-left corner and size
func NewRectXYWH(x, y, width, height float64) Rectangle {
	return Rectangle{
		X1: x,
		Y1: y,
		X2: x + width,
		Y2: y + height,
	}
}

func NewRectFrom(rect image.Rectangle) Rectangle {
	return Rectangle{
		X1: float64(rect.Min.X),
		Y1: float64(rect.Min.Y),
		X2: float64(rect.Max.X),
		Y2: float64(rect.Max.Y),
	}
}

// Width returns horizontal extent of rectangle
func (rect Rectangle) Width() float64 {
	return rect.X2 - rect.X1
}

// Height returns vertical extent of rectangle
func (rect Rectangle) Height() float64 {
	return rect.Y2 - rect.Y1
}

// Center returns centroid of rectangle
func (rect Rectangle) Center() Point {
	return Point{
		X: (rect.X1 + rect.X2) / 2.0,
		Y: (rect.Y1 + rect.Y2) / 2.0,
	}
}

// Contains reports whether point lies inside rectangle. Borders are inclusive.
func (rect Rectangle) Contains(pt Point) bool {
	return rect.X1 <= pt.X && pt.X <= rect.X2 &&
		rect.Y1 <= pt.Y && pt.Y <= rect.Y2
}

// IsFinite reports whether every coordinate is a real number
func (rect Rectangle) IsFinite() bool {
	return isFinite(rect.X1) && isFinite(rect.Y1) && isFinite(rect.X2) && isFinite(rect.Y2)
}

// IsValid reports whether rectangle is finite and its corners are not swapped.
// Zero-area rectangles are valid.
func (rect Rectangle) IsValid() bool {
	return rect.IsFinite() && rect.X2 >= rect.X1 && rect.Y2 >= rect.Y1
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func NewPointFrom(point image.Point) Point {
	return Point{
		X: float64(point.X),
		Y: float64(point.Y),
	}
}

// Line is a segment between two endpoints
type Line struct {
	A Point `json:"a"`
	B Point `json:"b"`
}

func NewLine(x1, y1, x2, y2 float64) Line {
	return Line{
		A: Point{X: x1, Y: y1},
		B: Point{X: x2, Y: y2},
	}
}

// Midpoint returns middle point of the segment
func (line Line) Midpoint() Point {
	return Point{
		X: (line.A.X + line.B.X) / 2.0,
		Y: (line.A.Y + line.B.Y) / 2.0,
	}
}

// IsVertical reports whether line is "more vertical": its horizontal extent is
// smaller than its vertical one.
func (line Line) IsVertical() bool {
	return math.Abs(line.B.X-line.A.X) < math.Abs(line.B.Y-line.A.Y)
}

// IsDegenerate reports whether both endpoints are the same point
func (line Line) IsDegenerate() bool {
	return line.A == line.B
}

// CrossedBy checks if movement from prev to curr strictly straddles the line.
// For a more vertical line X coordinates are compared against midpoint X,
// otherwise Y coordinates are compared against midpoint Y.
func (line Line) CrossedBy(prev, curr Point) bool {
	mid := line.Midpoint()
	if line.IsVertical() {
		return straddles(prev.X, curr.X, mid.X)
	}
	return straddles(prev.Y, curr.Y, mid.Y)
}

func straddles(prev, curr, edge float64) bool {
	return (prev < edge && edge < curr) || (curr < edge && edge < prev)
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(float64(p1.X-p2.X), 2) + math.Pow(float64(p1.Y-p2.Y), 2))
}
