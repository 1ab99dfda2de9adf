// Copyright 2020 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package diffbuf

import "math"

// Rotation selects one of the panel's four scan orientations. R0 and R2
// keep the panel in portrait (320x480); R1 and R3
// switch to landscape (480x320). The framebuffer itself is never relaid out;
// rotation only changes the order pixels are read in.
type Rotation int

// The four rotations, valued to match the panel's rotation register (0..3).
const (
	R0 Rotation = 0
	R1 Rotation = 1
	R2 Rotation = 2
	R3 Rotation = 3
)

// RotatedDims returns the panel-facing width and height for a logical
// framebuffer of size w x h under rotation r.
func RotatedDims(w, h int, r Rotation) (int, int) {
	if r == R1 || r == R3 {
		return h, w
	}
	return w, h
}

// Inverse returns the rotation that undoes r: rotating by r then by
// Inverse(r) is the identity transform.
func Inverse(r Rotation) Rotation {
	switch r {
	case R1:
		return R3
	case R3:
		return R1
	default:
		return r
	}
}

// rotateCoord maps a point (x, y) in a w x h box to its position after
// rotating the box by r. R1 and R3 are true inverses of one another; R0 and
// R2 are each their own inverse.
func rotateCoord(r Rotation, x, y, w, h int) (int, int) {
	switch r {
	case R0:
		return x, y
	case R1:
		return h - 1 - y, x
	case R2:
		return w - 1 - x, h - 1 - y
	case R3:
		return y, w - 1 - x
	default:
		return x, y
	}
}

// logicalAt maps a rotated-scan coordinate (rx, ry) back to the logical
// framebuffer coordinate it is read from, for a logical frame of size
// w x h under rotation r.
func logicalAt(r Rotation, rx, ry, w, h int) (int, int) {
	wr, hr := RotatedDims(w, h, r)
	return rotateCoord(Inverse(r), rx, ry, wr, hr)
}

// RotationBox maps a logical rectangle to the panel's coordinate system
// under rotation r, for a logical frame of size w x h.
func RotationBox(r Rotation, xmin, xmax, ymin, ymax, w, h int) (x1, x2, y1, y2 int) {
	x1, y1 = math.MaxInt, math.MaxInt
	x2, y2 = math.MinInt, math.MinInt
	corners := [4][2]int{{xmin, ymin}, {xmax, ymin}, {xmin, ymax}, {xmax, ymax}}
	for _, c := range corners {
		rx, ry := rotateCoord(r, c[0], c[1], w, h)
		if rx < x1 {
			x1 = rx
		}
		if rx > x2 {
			x2 = rx
		}
		if ry < y1 {
			y1 = ry
		}
		if ry > y2 {
			y2 = ry
		}
	}
	return x1, x2, y1, y2
}
