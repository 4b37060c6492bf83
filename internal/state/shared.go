package state

// Flags is a point-in-time copy of the per-trial flags.
type Flags struct {
	GameIsOver                bool    `json:"gameIsOver"`
	CollisionHasHappened      bool    `json:"collisionHasHappened"`
	PlayerSwerved             bool    `json:"playerSwerved"`
	RobotSwerved              bool    `json:"robotSwerved"`
	RobotPlayerSwerveDistance float64 `json:"robotPlayerSwerveDistance"`
	RobotStartSwerveDistance  float64 `json:"robotStartSwerveDistance"`
	LoadIsFinished            bool    `json:"loadIsFinished"`
}

// Shared couples the two agents and the sequencer during a trial. Every flag has exactly
// one writer: the player owns PlayerSwerved, the robot owns the swerve record, the scene
// owns collision and game over, and the sequencer owns the load flag and Reset. Callers
// advance a session from a single goroutine so no locking happens here.
type Shared struct {
	flags Flags
}

// NewShared returns cleared flags.
func NewShared() *Shared {
	return &Shared{}
}

// Reset clears every flag for the next trial.
func (s *Shared) Reset() {
	if s == nil {
		return
	}
	s.flags = Flags{}
}

// MarkCollision records the first agent contact of the trial. It reports false when a
// collision was already recorded.
func (s *Shared) MarkCollision() bool {
	if s == nil || s.flags.CollisionHasHappened {
		return false
	}
	s.flags.CollisionHasHappened = true
	return true
}

// MarkPlayerSwerved notes that the participant steered sideways.
func (s *Shared) MarkPlayerSwerved() {
	if s == nil {
		return
	}
	s.flags.PlayerSwerved = true
}

// RecordRobotSwerve stores the distances measured when the robot committed to a swerve.
// Only the first call of a trial is kept.
func (s *Shared) RecordRobotSwerve(playerDistance, startDistance float64) {
	if s == nil || s.flags.RobotSwerved {
		return
	}
	s.flags.RobotSwerved = true
	s.flags.RobotPlayerSwerveDistance = playerDistance
	s.flags.RobotStartSwerveDistance = startDistance
}

// SetGameOver latches the end of the trial. It reports false when already over.
func (s *Shared) SetGameOver() bool {
	if s == nil || s.flags.GameIsOver {
		return false
	}
	s.flags.GameIsOver = true
	return true
}

// SetLoadFinished marks the loading overlay as dismissed.
func (s *Shared) SetLoadFinished() {
	if s == nil {
		return
	}
	s.flags.LoadIsFinished = true
}

func (s *Shared) GameIsOver() bool           { return s != nil && s.flags.GameIsOver }
func (s *Shared) CollisionHasHappened() bool { return s != nil && s.flags.CollisionHasHappened }
func (s *Shared) PlayerSwerved() bool        { return s != nil && s.flags.PlayerSwerved }
func (s *Shared) RobotSwerved() bool         { return s != nil && s.flags.RobotSwerved }
func (s *Shared) LoadIsFinished() bool       { return s != nil && s.flags.LoadIsFinished }

// Snapshot copies the flags.
func (s *Shared) Snapshot() Flags {
	if s == nil {
		return Flags{}
	}
	return s.flags
}
