package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chicken/broker/internal/trial"
)

func TestWriterRoundTripsBundle(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writer, manifest, err := NewWriter(tmp, "Session #1", 100*time.Millisecond, clock)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(writer.Directory()), "Session1-") {
		t.Fatalf("unexpected bundle directory %q", writer.Directory())
	}
	if manifest.SampleIntervalMs != 100 || manifest.EventsPath != EventsFile {
		t.Fatalf("unexpected manifest %+v", manifest)
	}

	if err := writer.AppendEvent(250*time.Millisecond, "trial_started", 3, map[string]string{"robot": "SPEED"}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := writer.AppendEvent(time.Second, "trial_finished", 3, nil); err != nil {
		t.Fatalf("append event: %v", err)
	}
	samples := []trial.Sample{{X: 0, Z: 1}, {X: 0.5, Z: 1.5, VX: 5, VZ: 5}}
	if err := writer.AppendTrajectory(3, AgentPlayer, samples); err != nil {
		t.Fatalf("append trajectory: %v", err)
	}
	if err := writer.AppendTrajectory(3, AgentRobot, nil); err != nil {
		t.Fatalf("append empty trajectory: %v", err)
	}
	writer.SetSummary(42, ProtocolParameters{"agent_speed": 1.3}, 19, 7, "ABC")
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if err := writer.AppendEvent(0, "late", 0, nil); err == nil {
		t.Fatalf("writes after close should fail")
	}

	bundle, err := ReadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if bundle.Header == nil || bundle.Header.Seed != 42 || bundle.Header.CompletionCode != "ABC" {
		t.Fatalf("unexpected header %+v", bundle.Header)
	}
	if len(bundle.Events) != 2 || bundle.Events[0].Seq != 1 || bundle.Events[0].SimulatedMs != 250 {
		t.Fatalf("unexpected events %+v", bundle.Events)
	}
	var payload map[string]string
	if err := json.Unmarshal(bundle.Events[0].Payload, &payload); err != nil || payload["robot"] != "SPEED" {
		t.Fatalf("unexpected payload %s (%v)", bundle.Events[0].Payload, err)
	}
	if len(bundle.Trajectories) != 2 {
		t.Fatalf("expected 2 trajectory frames, got %d", len(bundle.Trajectories))
	}
	player := bundle.Trajectories[0]
	if player.Agent != AgentPlayer || player.Trial != 3 || len(player.Samples) != 2 || player.Samples[1] != samples[1] {
		t.Fatalf("unexpected player frame %+v", player)
	}
	if robot := bundle.Trajectories[1]; robot.Agent != AgentRobot || len(robot.Samples) != 0 {
		t.Fatalf("unexpected robot frame %+v", robot)
	}
}

func TestReadBundleWithoutHeader(t *testing.T) {
	writer, _, err := NewWriter(t.TempDir(), "live", 100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := os.Remove(filepath.Join(writer.Directory(), HeaderFile)); err != nil {
		t.Fatalf("remove header: %v", err)
	}
	bundle, err := ReadBundle(writer.Directory())
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if bundle.Header != nil || len(bundle.Events) != 0 {
		t.Fatalf("expected empty bundle, got %+v", bundle)
	}
}

func TestNewWriterRequiresRoot(t *testing.T) {
	if _, _, err := NewWriter("", "x", time.Second, nil); err == nil {
		t.Fatalf("expected missing root to fail")
	}
}
