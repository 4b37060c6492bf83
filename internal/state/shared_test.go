package state

import (
	"testing"

	"chicken/broker/internal/config"
)

func TestCollisionFirstWins(t *testing.T) {
	shared := NewShared()
	if !shared.MarkCollision() {
		t.Fatalf("first collision should be recorded")
	}
	if shared.MarkCollision() {
		t.Fatalf("second collision should be ignored")
	}
	if !shared.CollisionHasHappened() {
		t.Fatalf("collision flag not set")
	}
}

func TestGameOverLatches(t *testing.T) {
	shared := NewShared()
	if !shared.SetGameOver() || shared.SetGameOver() {
		t.Fatalf("game over should latch on the first call only")
	}
}

func TestRobotSwerveKeepsFirstRecord(t *testing.T) {
	shared := NewShared()
	shared.RecordRobotSwerve(3.3, 1.2)
	shared.RecordRobotSwerve(9, 9)
	flags := shared.Snapshot()
	if !flags.RobotSwerved || flags.RobotPlayerSwerveDistance != 3.3 || flags.RobotStartSwerveDistance != 1.2 {
		t.Fatalf("unexpected swerve record %+v", flags)
	}
}

func TestResetClearsFlags(t *testing.T) {
	shared := NewShared()
	shared.MarkCollision()
	shared.MarkPlayerSwerved()
	shared.SetLoadFinished()
	shared.SetGameOver()
	shared.Reset()
	if shared.Snapshot() != (Flags{}) {
		t.Fatalf("reset left flags behind: %+v", shared.Snapshot())
	}
}

func TestNilSharedIsInert(t *testing.T) {
	var shared *Shared
	if shared.MarkCollision() || shared.SetGameOver() || shared.GameIsOver() {
		t.Fatalf("nil state should never report transitions")
	}
	shared.MarkPlayerSwerved()
	shared.Reset()
}

func TestKinematicsSwerveWidthUsesLargerAgent(t *testing.T) {
	protocol := config.DefaultProtocol()
	protocol.PlayerRadius = 0.25
	protocol.RobotRadius = 0.4
	protocol.SwerveMargin = 0.2
	k := NewKinematics(protocol)
	if got := k.SwerveWidth(); got < 0.999 || got > 1.001 {
		t.Fatalf("expected swerve width 1.0, got %v", got)
	}
	if got := k.SwerveTriggerDistance(); got < 2.999 || got > 3.001 {
		t.Fatalf("expected trigger distance 3.0, got %v", got)
	}
	if k.PlayerMaxSpeed != protocol.AgentSpeed*protocol.PlayerMaxSpeedCoefficient {
		t.Fatalf("unexpected max speed %v", k.PlayerMaxSpeed)
	}
}
