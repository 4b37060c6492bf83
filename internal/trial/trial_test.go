package trial

import (
	"encoding/json"
	"math/rand"
	"testing"
)

func TestBuildListComposition(t *testing.T) {
	for seed := int64(0); seed < 25; seed++ {
		trials := BuildList(rand.New(rand.NewSource(seed)))
		if len(trials) != 19 {
			t.Fatalf("seed %d: expected 19 trials, got %d", seed, len(trials))
		}
		if !trials[0].IsTest() {
			t.Fatalf("seed %d: index 0 must be the test trial", seed)
		}

		playerCounts := map[Motivation]int{}
		for block := 0; block < BlockCount; block++ {
			start := 1 + block*BlockSize
			player := trials[start].PlayerMotivation()
			robotCounts := map[Motivation]int{}
			for _, tr := range trials[start : start+BlockSize] {
				if tr.IsTest() {
					t.Fatalf("seed %d: regular slot %d holds a test trial", seed, tr.Ordinal())
				}
				if tr.PlayerMotivation() != player {
					t.Fatalf("seed %d: block %d mixes player motivations", seed, block)
				}
				if tr.RobotColor() != ColorFor(tr.RobotMotivation()) {
					t.Fatalf("seed %d: color %s does not match motivation %s", seed, tr.RobotColor(), tr.RobotMotivation())
				}
				playerCounts[tr.PlayerMotivation()]++
				robotCounts[tr.RobotMotivation()]++
			}
			for _, m := range Motivations {
				if robotCounts[m] != 2 {
					t.Fatalf("seed %d: block %d has %d robots with %s", seed, block, robotCounts[m], m)
				}
			}
		}
		for _, m := range Motivations {
			if playerCounts[m] != BlockSize {
				t.Fatalf("seed %d: expected %d trials for %s, got %d", seed, BlockSize, m, playerCounts[m])
			}
		}
	}
}

func TestBuildListIsReproducible(t *testing.T) {
	a := BuildList(rand.New(rand.NewSource(7)))
	b := BuildList(rand.New(rand.NewSource(7)))
	for i := range a {
		if a[i].PlayerMotivation() != b[i].PlayerMotivation() || a[i].RobotMotivation() != b[i].RobotMotivation() {
			t.Fatalf("trial %d differs between identically seeded builds", i)
		}
	}
}

func TestOrdinalsIncreaseAcrossLists(t *testing.T) {
	first := BuildList(rand.New(rand.NewSource(1)))
	second := BuildList(rand.New(rand.NewSource(1)))
	last := -1
	for _, tr := range append(first, second...) {
		if tr.Ordinal() <= last {
			t.Fatalf("ordinal %d does not follow %d", tr.Ordinal(), last)
		}
		last = tr.Ordinal()
	}
}

func TestInstructionCutoffs(t *testing.T) {
	cutoffs := InstructionCutoffs(BlockCount, BlockSize)
	want := []int{1, 7, 13}
	if len(cutoffs) != len(want) {
		t.Fatalf("expected %v, got %v", want, cutoffs)
	}
	for _, idx := range want {
		if !cutoffs[idx] {
			t.Fatalf("expected %d to be a cutoff, got %v", idx, cutoffs)
		}
	}
}

func TestFinalizeUsesSentinelWithoutSwerve(t *testing.T) {
	tr := NewRegular(EnvironmentOpen, RobotPepper, MotivationSpeed, MotivationSafety)
	tr.Finalize(Outcome{RobotSwerved: false, RobotPlayerSwerveDistance: 4.2, RobotStartSwerveDistance: 3.1})
	out := tr.Outcome()
	if out.RobotPlayerSwerveDistance != Unset || out.RobotStartSwerveDistance != Unset {
		t.Fatalf("expected sentinel distances, got %+v", out)
	}
}

func TestFinalizeTwicePanics(t *testing.T) {
	tr := NewTest()
	tr.Finalize(Outcome{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected second finalize to panic")
		}
	}()
	tr.Finalize(Outcome{})
}

func TestOutcomeBeforeFinalizePanics(t *testing.T) {
	tr := NewTest()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected reading an unrecorded outcome to panic")
		}
	}()
	_ = tr.Outcome()
}

func TestRecordEncodesTrajectoriesAsArrays(t *testing.T) {
	tr := NewRegular(EnvironmentOpen, RobotPepper, MotivationNone, MotivationNone)
	tr.Finalize(Outcome{
		RobotSwerved:              true,
		RobotPlayerSwerveDistance: 2.5,
		PlayerTrajectory:          []Sample{{X: 1, Z: 2, VX: 0, VZ: 0}},
	})
	data, err := json.Marshal(tr.Record())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		PlayerTrajectory [][]float64 `json:"playerTrajectory"`
		RobotMotivation  string      `json:"robotMotivation"`
		RobotColor       string      `json:"robotColor"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.PlayerTrajectory) != 1 || decoded.PlayerTrajectory[0][1] != 2 {
		t.Fatalf("unexpected trajectory encoding: %s", data)
	}
	if decoded.RobotMotivation != "NONE" || decoded.RobotColor != "WHITE" {
		t.Fatalf("enums should encode by name: %s", data)
	}
}
