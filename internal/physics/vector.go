package physics

import "math"

// Vec3 is a lightweight vector helper used by the motion utilities. Agents move on the
// xz-plane; Y is carried for completeness.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Sub returns v-o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Scale multiplies every component by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

// Dot returns the scalar product.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Length returns the Euclidean norm.
func (v Vec3) Length() float64 { return math.Sqrt(v.Dot(v)) }

// PlanarLength ignores the vertical component.
func (v Vec3) PlanarLength() float64 { return math.Hypot(v.X, v.Z) }

// Normalized returns the unit vector, or the zero vector when v has no length.
func (v Vec3) Normalized() Vec3 {
	length := v.Length()
	if length == 0 {
		return Vec3{}
	}
	return v.Scale(1 / length)
}

// IsZero reports whether every component is zero.
func (v Vec3) IsZero() bool { return v.X == 0 && v.Y == 0 && v.Z == 0 }

// Heading is the planar angle of v measured from +Z toward +X, in radians.
func Heading(v Vec3) float64 { return math.Atan2(v.X, v.Z) }

// FromHeading builds the planar unit vector for a heading.
func FromHeading(heading float64) Vec3 {
	return Vec3{X: math.Sin(heading), Z: math.Cos(heading)}
}

// wrapAngle normalizes an angle to the [-π, π) range.
func wrapAngle(angle float64) float64 {
	//1.- Use math.Mod to keep values bounded across many integration steps.
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}

// RotateTowards turns a planar facing toward target by at most maxRadians. The result is
// a unit vector; a zero target leaves the facing unchanged.
func RotateTowards(current, target Vec3, maxRadians float64) Vec3 {
	//1.- Nothing to aim at, keep the present orientation.
	if target.PlanarLength() == 0 {
		return current
	}
	if current.PlanarLength() == 0 {
		return FromHeading(Heading(target))
	}
	//2.- Clamp the signed angular difference to the per-step budget.
	from := Heading(current)
	delta := wrapAngle(Heading(target) - from)
	if maxRadians < 0 {
		maxRadians = 0
	}
	if delta > maxRadians {
		delta = maxRadians
	} else if delta < -maxRadians {
		delta = -maxRadians
	}
	return FromHeading(from + delta)
}
