package bundlereader

import (
	"testing"
	"time"

	"chicken/broker/internal/replay"
	"chicken/broker/internal/trial"
)

func TestLoadSummarisesBundle(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 10, 15, 0, 0, 0, time.UTC)
	writer, _, err := replay.NewWriter(tmp, "integration", 100*time.Millisecond, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	//1.- Record one trial with both agents, robot first.
	if err := writer.AppendEvent(0, "trial_loading", 0, map[string]int{"index": 0}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := writer.AppendEvent(2*time.Second, "trial_ended", 0, nil); err != nil {
		t.Fatalf("append event: %v", err)
	}
	robot := []trial.Sample{{X: 0, Z: 10}, {X: 0, Z: 9}, {X: 0, Z: 8}}
	player := []trial.Sample{{X: 0, Z: 0}, {X: 0, Z: 3}, {X: 4, Z: 3}}
	if err := writer.AppendTrajectory(0, replay.AgentRobot, robot); err != nil {
		t.Fatalf("append robot: %v", err)
	}
	if err := writer.AppendTrajectory(0, replay.AgentPlayer, player); err != nil {
		t.Fatalf("append player: %v", err)
	}
	writer.SetSummary(3, replay.ProtocolParameters{"agent_speed": 1.3}, 1, 2, "CODE123456")
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, summary, err := Load(writer.Directory())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !summary.Sealed || summary.SessionID != "integration" || summary.CompletionCode != "CODE123456" {
		t.Fatalf("unexpected summary header: %+v", summary)
	}
	if summary.EventCounts["trial_loading"] != 1 || summary.EventCounts["trial_ended"] != 1 {
		t.Fatalf("unexpected event counts: %v", summary.EventCounts)
	}
	if len(summary.Paths) != 2 || summary.Paths[0].Agent != "player" {
		t.Fatalf("expected player path first, got %+v", summary.Paths)
	}
	if got := summary.Paths[0]; got.Distance != 7 || got.Duration != 200*time.Millisecond || got.End != [2]float64{4, 3} {
		t.Fatalf("unexpected player path %+v", got)
	}
	if got := summary.Paths[1]; got.Distance != 2 || got.Samples != 3 {
		t.Fatalf("unexpected robot path %+v", got)
	}
}

func TestLoadRejectsMissingBundle(t *testing.T) {
	if _, _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected missing manifest to fail")
	}
}
