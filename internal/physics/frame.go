package physics

import "math"

// Frame is a parent coordinate system: an origin plus a rotation about the vertical axis.
// Agents store their positions in the frame so the whole track can be re-placed between
// trials without disturbing agent motion.
type Frame struct {
	Origin Vec3    `json:"origin"`
	Yaw    float64 `json:"yaw"`
}

// TransformDirection maps a frame-local direction into world space.
func (f Frame) TransformDirection(local Vec3) Vec3 {
	sin, cos := math.Sincos(f.Yaw)
	return Vec3{
		X: local.X*cos + local.Z*sin,
		Y: local.Y,
		Z: -local.X*sin + local.Z*cos,
	}
}

// InverseTransformDirection maps a world direction into the frame.
func (f Frame) InverseTransformDirection(world Vec3) Vec3 {
	sin, cos := math.Sincos(f.Yaw)
	return Vec3{
		X: world.X*cos - world.Z*sin,
		Y: world.Y,
		Z: world.X*sin + world.Z*cos,
	}
}

// TransformPoint maps a frame-local point into world space.
func (f Frame) TransformPoint(local Vec3) Vec3 {
	return f.Origin.Add(f.TransformDirection(local))
}

// InverseTransformPoint maps a world point into the frame.
func (f Frame) InverseTransformPoint(world Vec3) Vec3 {
	return f.InverseTransformDirection(world.Sub(f.Origin))
}
