package state

import (
	"math"

	"chicken/broker/internal/config"
)

// Kinematics are the motion constants both agents read during a trial.
type Kinematics struct {
	AgentSpeed           float64
	SwerveSideSpeedRatio float64
	RotationSpeed        float64
	SwerveMargin         float64
	PlayerRadius         float64
	RobotRadius          float64
	PlayerMinSpeed       float64
	PlayerMaxSpeed       float64
	PlayerAcceleration   float64
}

// NewKinematics derives the per-trial constants from the protocol.
func NewKinematics(p config.Protocol) Kinematics {
	return Kinematics{
		AgentSpeed:           p.AgentSpeed,
		SwerveSideSpeedRatio: p.SwerveSideSpeedRatio,
		RotationSpeed:        p.RotationSpeed,
		SwerveMargin:         p.SwerveMargin,
		PlayerRadius:         p.PlayerRadius,
		RobotRadius:          p.RobotRadius,
		PlayerMinSpeed:       p.PlayerMinSpeed,
		PlayerMaxSpeed:       p.MaxPlayerSpeed(),
		PlayerAcceleration:   p.PlayerAcceleration,
	}
}

// SwerveWidth is the lateral offset that clears the larger agent: its diameter plus the margin.
func (k Kinematics) SwerveWidth() float64 {
	return 2*math.Max(k.PlayerRadius, k.RobotRadius) + k.SwerveMargin
}

// SwerveTriggerDistance is the separation at which a willing robot starts to swerve.
func (k Kinematics) SwerveTriggerDistance() float64 {
	return 3 * k.SwerveWidth()
}
