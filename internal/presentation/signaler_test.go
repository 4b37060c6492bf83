package presentation

import (
	"encoding/json"
	"testing"

	"chicken/broker/internal/events"
	"chicken/broker/internal/logging"
	"chicken/broker/internal/scoring"
	"chicken/broker/internal/trial"
)

func newTestSignaler() (*Signaler, *events.Stream) {
	stream := events.NewStream(events.Config{})
	return NewSignaler(stream, logging.NewTestLogger()), stream
}

func TestMissingRobotAvatarIsSkipped(t *testing.T) {
	signaler, stream := newTestSignaler()
	signaler.LoadRobotAvatar(trial.RobotTest, trial.ColorBlue)
	signaler.LoadRobotAvatar(trial.RobotPepper, trial.ColorGreen)
	if stream.Len() != 0 {
		t.Fatalf("missing combinations must not be signalled, got %d", stream.Len())
	}
	signaler.LoadRobotAvatar(trial.RobotPepper, trial.ColorPurple)
	if stream.Len() != 1 {
		t.Fatalf("expected shipped avatar to be signalled")
	}
}

func TestLoadingScreenCarriesRobotViewText(t *testing.T) {
	signaler, stream := newTestSignaler()
	signaler.SetTrial(4)
	signaler.DisplayLoadingScreen(trial.MotivationSpeed, false)
	signaler.DisplayLoadingScreen(trial.MotivationNone, true)

	envelopes := stream.Since(0)
	if len(envelopes) != 2 || envelopes[0].Name != SignalLoading || envelopes[0].Trial != 4 {
		t.Fatalf("unexpected envelopes %+v", envelopes)
	}
	var regular, test LoadingScreen
	if err := json.Unmarshal(envelopes[0].Payload, &regular); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(envelopes[1].Payload, &test); err != nil {
		t.Fatalf("decode: %v", err)
	}
	texts := DefaultTexts()
	if regular.RobotViewText != texts.RobotView[trial.MotivationSpeed] || regular.Text != texts.Loading[trial.MotivationSpeed] {
		t.Fatalf("unexpected regular screen %+v", regular)
	}
	if !test.Test || test.Text != texts.Test || test.RobotViewText != "" {
		t.Fatalf("unexpected test screen %+v", test)
	}
}

func TestPayoffMatrixSignal(t *testing.T) {
	signaler, stream := newTestSignaler()
	signaler.DisplayPayoffMatrix(trial.MotivationSafety, scoring.DefaultTable()[trial.MotivationSafety])
	var payload struct {
		Points []int `json:"points"`
	}
	if err := json.Unmarshal(stream.Since(0)[0].Payload, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Points) != 4 || payload.Points[2] != 1 {
		t.Fatalf("unexpected matrix %v", payload.Points)
	}
}

func TestCatalogDefaults(t *testing.T) {
	catalog := DefaultCatalog()
	if !catalog.HasPlayerAvatar(trial.GenderMalePresenting, trial.SkinLightYellow) {
		t.Fatal("expected every player avatar to ship")
	}
	if catalog.HasRobotAvatar(trial.RobotPepper, trial.ColorBlue) {
		t.Fatal("blue pepper does not ship")
	}
	for _, env := range []trial.Environment{trial.EnvironmentTest, trial.EnvironmentOpen} {
		if !catalog.HasEnvironment(env) {
			t.Fatalf("expected environment %s", env)
		}
	}
}

func TestNilPublisherIsNoop(t *testing.T) {
	signaler := NewSignaler(nil, logging.NewTestLogger())
	signaler.DisplayScoreScreen(3)
	signaler.DisplayEnding(Summary{TotalPoints: 10})
}
