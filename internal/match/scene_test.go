package match

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"chicken/broker/internal/config"
	"chicken/broker/internal/input"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/physics"
	"chicken/broker/internal/randvar"
	"chicken/broker/internal/simulation"
	"chicken/broker/internal/state"
	"chicken/broker/internal/trial"
)

const fixedStep = 20 * time.Millisecond

type harness struct {
	scene      *Scene
	sched      *simulation.Scheduler
	shared     *state.Shared
	gameOvers  int
	collisions int
}

func newHarness(t *testing.T, source input.Source, opts ...Option) *harness {
	t.Helper()
	return newSeededHarness(t, 7, source, opts...)
}

// newWillingHarness walks seeds until the placed robot is willing to swerve.
func newWillingHarness(t *testing.T, source input.Source, opts ...Option) *harness {
	t.Helper()
	for seed := int64(1); seed <= 64; seed++ {
		h := newSeededHarness(t, seed, source, opts...)
		if h.scene.Robot().Propensity() {
			return h
		}
		h.scene.Teardown()
	}
	t.Fatalf("no willing robot within 64 seeds")
	return nil
}

func newSeededHarness(t *testing.T, seed int64, source input.Source, opts ...Option) *harness {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	h := &harness{sched: simulation.NewScheduler(), shared: state.NewShared()}
	opts = append([]Option{
		WithLogger(logging.NewTestLogger()),
		WithGameOverHandler(func() { h.gameOvers++ }),
		WithCollisionHandler(func(physics.Vec3) { h.collisions++ }),
	}, opts...)
	h.scene = NewScene(config.DefaultProtocol(), trial.NewRegular(trial.EnvironmentOpen, trial.RobotPepper, trial.MotivationNone, trial.MotivationSpeed), Dependencies{
		Shared:    h.shared,
		Scheduler: h.sched,
		Rand:      rng,
		Gaussian:  randvar.NewGaussian(rng),
		Input:     source,
	}, opts...)
	return h
}

func (h *harness) step() {
	h.scene.FixedUpdate(fixedStep.Seconds())
	h.sched.Advance(fixedStep)
	h.scene.Update()
}

func (h *harness) runUntilOver(t *testing.T, limit time.Duration) {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < limit; elapsed += fixedStep {
		if h.shared.GameIsOver() {
			return
		}
		h.step()
	}
	t.Fatalf("trial did not finish within %v", limit)
}

func TestAgentsWaitForLoadToFinish(t *testing.T) {
	h := newHarness(t, input.Constant{Vertical: 1})
	for i := 0; i < 10; i++ {
		h.step()
	}
	if h.scene.Player().Position() != (physics.Vec3{}) {
		t.Fatalf("player moved before load finished")
	}
	if h.scene.Robot().Position().Z != config.DefaultProtocol().TrackLength {
		t.Fatalf("robot moved before load finished")
	}
	h.scene.LoadFinished()
	h.step()
	if !h.shared.LoadIsFinished() || h.scene.Player().Position().Z <= 0 {
		t.Fatalf("player should move once the load finishes")
	}
	if h.scene.Robot().Paused() {
		t.Fatalf("robot should be released by the first forward input")
	}
}

func TestNoForwardInputNeverReleasesRobot(t *testing.T) {
	h := newHarness(t, input.Constant{Horizontal: 1})
	h.scene.LoadFinished()
	for i := 0; i < 500; i++ {
		h.step()
	}
	if !h.scene.Robot().Paused() || h.shared.GameIsOver() {
		t.Fatalf("robot must stay paused without forward input")
	}
	if len(h.scene.Robot().Sampler().Trajectory()) != 0 {
		t.Fatalf("robot should not be sampled before the first move")
	}
}

func TestCollisionPausesThenDisablesSwerve(t *testing.T) {
	h := newWillingHarness(t, input.Constant{Vertical: 1})
	h.scene.LoadFinished()
	//1.- Release the robot while the agents are still far apart.
	h.step()
	if h.scene.Robot().Paused() || h.shared.RobotSwerved() {
		t.Fatalf("robot should be released on a straight course")
	}
	//2.- Stack both agents mid-track so contact lands well inside the trigger distance.
	h.scene.Robot().Body().Position = physics.Vec3{Z: config.DefaultProtocol().TrackLength / 2}
	h.scene.Player().Body().Position = h.scene.Robot().Position()
	h.scene.detectCollision()
	if !h.shared.CollisionHasHappened() || h.collisions != 1 {
		t.Fatalf("expected a single collision, got %d", h.collisions)
	}
	if !h.scene.Player().Paused() || !h.scene.Robot().Paused() {
		t.Fatalf("both agents should pause on collision")
	}
	frozen := h.scene.Player().Position()
	h.step()
	if h.scene.Player().Position() != frozen {
		t.Fatalf("player moved during the grace period")
	}
	for elapsed := fixedStep; elapsed <= config.DefaultProtocol().CollisionDelay; elapsed += fixedStep {
		h.step()
	}
	if h.scene.Player().Paused() || h.scene.Robot().Paused() {
		t.Fatalf("agents should resume after the grace period")
	}
	if !h.scene.Robot().Overridden() || !math.IsInf(h.scene.Robot().TriggerDistance(), 1) {
		t.Fatalf("robot swerve should be disabled, trigger=%v", h.scene.Robot().TriggerDistance())
	}
	//3.- The willing robot stays on its line while the player is still within reach.
	for i := 0; i < 100 && !h.shared.GameIsOver(); i++ {
		h.step()
		if x := h.scene.Robot().Position().X; x != 0 || h.shared.RobotSwerved() {
			t.Fatalf("robot swerved after the collision override, x=%v", x)
		}
	}
	h.runUntilOver(t, 30*time.Second)
	if h.gameOvers != 1 || h.collisions != 1 {
		t.Fatalf("expected one game over and one collision, got %d/%d", h.gameOvers, h.collisions)
	}
	if h.shared.RobotSwerved() {
		t.Fatalf("robot swerve recorded after the override")
	}
}

func TestOverriddenWillingRobotHoldsCourse(t *testing.T) {
	h := newWillingHarness(t, input.Constant{Vertical: 1})
	h.scene.Robot().OverrideSwerve()
	h.scene.LoadFinished()
	h.runUntilOver(t, 30*time.Second)
	if x := h.scene.Robot().Position().X; x != 0 {
		t.Fatalf("overridden robot drifted to x=%v", x)
	}
	if h.shared.RobotSwerved() {
		t.Fatalf("overridden robot recorded a swerve")
	}
}

func TestGameOverFiresOnce(t *testing.T) {
	h := newHarness(t, input.Constant{Vertical: 1, Horizontal: 1})
	h.scene.LoadFinished()
	h.runUntilOver(t, 60*time.Second)
	for i := 0; i < 200; i++ {
		h.step()
	}
	if h.gameOvers != 1 {
		t.Fatalf("expected exactly one game over, got %d", h.gameOvers)
	}
	if !h.scene.Goal().Reached(h.scene.Player().Position()) {
		t.Fatalf("player should be past the goal line, at %+v", h.scene.Player().Position())
	}
	playerTrajectory, robotTrajectory := h.scene.Trajectories()
	if len(playerTrajectory) == 0 || len(robotTrajectory) == 0 {
		t.Fatalf("expected both trajectories to be sampled")
	}
	if playerTrajectory[0].VX != 0 || playerTrajectory[0].VZ != 0 {
		t.Fatalf("first sample must have zero velocity, got %+v", playerTrajectory[0])
	}
	if len(playerTrajectory) != len(robotTrajectory) {
		t.Fatalf("both samplers start together: %d vs %d", len(playerTrajectory), len(robotTrajectory))
	}
}

func TestTeardownCancelsSceneTimers(t *testing.T) {
	h := newHarness(t, input.Constant{Vertical: 1})
	h.scene.LoadFinished()
	for i := 0; i < 20; i++ {
		h.step()
	}
	if h.scene.PendingTimers() == 0 {
		t.Fatalf("expected samplers to be scheduled")
	}
	h.scene.Teardown()
	h.scene.Teardown()
	if h.scene.PendingTimers() != 0 || h.sched.Pending() != 0 {
		t.Fatalf("teardown left timers behind: scene=%d scheduler=%d", h.scene.PendingTimers(), h.sched.Pending())
	}
	before := h.scene.Player().Position()
	h.step()
	if h.scene.Player().Position() != before {
		t.Fatalf("torn down scene kept moving")
	}
}

func TestSnapshotUsesWorldFrame(t *testing.T) {
	h := newHarness(t, input.Constant{Vertical: 1}, WithFrame(physics.Frame{Origin: physics.Vec3{X: 5}, Yaw: math.Pi / 2}))
	snapshot := h.scene.Snapshot(0)
	if snapshot.Robot.Position.Z != config.DefaultProtocol().TrackLength {
		t.Fatalf("unexpected local robot position %+v", snapshot.Robot.Position)
	}
	if math.Abs(snapshot.Robot.World.X-(5+config.DefaultProtocol().TrackLength)) > 1e-9 {
		t.Fatalf("unexpected world robot position %+v", snapshot.Robot.World)
	}
	if snapshot.Goal != config.DefaultProtocol().GoalDistance {
		t.Fatalf("unexpected goal %v", snapshot.Goal)
	}
}

func TestSnapshotReportsRegisteredOccupants(t *testing.T) {
	h := newHarness(t, input.Constant{Vertical: 1})
	h.scene.LoadFinished()
	for i := 0; i < 10; i++ {
		h.step()
	}
	occupants := h.scene.Snapshot(0).Occupants
	if len(occupants) != 3 {
		t.Fatalf("expected three occupants, got %v", occupants)
	}
	if occupants[RolePlayer] != h.scene.Player().Position() || occupants[RoleRobot] != h.scene.Robot().Position() {
		t.Fatalf("occupants out of sync with agents: %v", occupants)
	}
	if occupants[RoleGoal].Z != config.DefaultProtocol().GoalDistance {
		t.Fatalf("unexpected goal occupant %+v", occupants[RoleGoal])
	}
}

func TestMustRegisterPanicsOnTakenRole(t *testing.T) {
	h := newHarness(t, input.Constant{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic when a role is registered twice")
		}
	}()
	h.scene.mustRegister(RoleGoal, Goal{Line: 1})
}

func TestRegistryRejectsDuplicateRoles(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(RoleGoal, Goal{Line: 3}); err != nil {
		t.Fatalf("register goal: %v", err)
	}
	if err := registry.Register(RoleGoal, Goal{Line: 4}); !errors.Is(err, ErrRoleTaken) {
		t.Fatalf("expected ErrRoleTaken, got %v", err)
	}
	if err := registry.Register(RolePlayer, nil); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	occupant, ok := registry.Lookup(RoleGoal)
	if !ok || occupant.Position().Z != 3 {
		t.Fatalf("unexpected lookup %+v", occupant)
	}
}

func TestSceneRegistersEveryRole(t *testing.T) {
	h := newHarness(t, input.Constant{})
	roles := h.scene.Registry().Roles()
	if len(roles) != 3 || roles[0] != RoleGoal || roles[1] != RolePlayer || roles[2] != RoleRobot {
		t.Fatalf("unexpected roles %v", roles)
	}
}
