package physics

// Body is an agent's pose inside a parent frame. Forward and Right are the agent's
// movement basis expressed in the frame, resolved once when the trial starts.
type Body struct {
	Position Vec3
	Facing   Vec3
	Forward  Vec3
	Right    Vec3
	Velocity Vec3
}

// NewBody resolves the movement basis from the agent's world-space facing.
func NewBody(parent Frame, position, worldForward Vec3) *Body {
	//1.- Express the world facing inside the parent frame so later frame moves do not skew it.
	forward := parent.InverseTransformDirection(worldForward)
	forward.Y = 0
	forward = forward.Normalized()
	//2.- Right is the clockwise perpendicular on the ground plane.
	right := Vec3{X: forward.Z, Z: -forward.X}
	return &Body{
		Position: position,
		Facing:   forward,
		Forward:  forward,
		Right:    right,
	}
}

// StepStraight moves along the forward axis.
func (b *Body) StepStraight(speed, rotationSpeed, dt float64) {
	if b == nil || dt <= 0 {
		return
	}
	b.move(b.Forward.Scale(speed), rotationSpeed, dt)
}

// StepSplitSwerve splits speed between the forward axis and the chosen side, where side
// is +1 for the agent's right and -1 for its left.
func (b *Body) StepSplitSwerve(speed, sideRatio, side, rotationSpeed, dt float64) {
	if b == nil || dt <= 0 {
		return
	}
	forward := b.Forward.Scale(speed * (1 - sideRatio))
	lateral := b.Right.Scale(speed * sideRatio * side)
	b.move(forward.Add(lateral), rotationSpeed, dt)
}

// StepBlended steers by blending lateral input into the forward direction and moving at
// the full speed along the normalized result.
func (b *Body) StepBlended(speed, lateral, rotationSpeed, dt float64) {
	if b == nil || dt <= 0 {
		return
	}
	direction := b.Forward.Add(b.Right.Scale(lateral)).Normalized()
	b.move(direction.Scale(speed), rotationSpeed, dt)
}

// Hold zeroes the velocity while keeping the pose.
func (b *Body) Hold() {
	if b == nil {
		return
	}
	b.Velocity = Vec3{}
}

func (b *Body) move(velocity Vec3, rotationSpeed, dt float64) {
	//1.- Advance the position with Euler integration.
	b.Position = b.Position.Add(velocity.Scale(dt))
	b.Velocity = velocity
	//2.- Ease the facing toward the travel direction without snapping.
	b.Facing = RotateTowards(b.Facing, velocity, rotationSpeed*dt)
}

// Overlap reports whether two agents, modelled as upright cylinders, touch on the ground plane.
func Overlap(a Vec3, ra float64, b Vec3, rb float64) bool {
	return a.Sub(b).PlanarLength() < ra+rb
}
