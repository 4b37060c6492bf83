package bundlecatalog

import (
	"testing"
	"time"

	"chicken/broker/internal/replay"
)

func TestListCollectsBundles(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 7, 10, 15, 0, 0, 0, time.UTC)

	//1.- One sealed bundle and one still owned by a running session.
	sealed, _, err := replay.NewWriter(dir, "alpha", 100*time.Millisecond, func() time.Time { return base })
	if err != nil {
		t.Fatalf("NewWriter alpha: %v", err)
	}
	sealed.SetSummary(7, replay.ProtocolParameters{"agent_speed": 1.3}, 2, 5, "ABCDEFGHIJ")
	if err := sealed.Close(); err != nil {
		t.Fatalf("Close alpha: %v", err)
	}
	open, _, err := replay.NewWriter(dir, "bravo", 100*time.Millisecond, func() time.Time { return base.Add(time.Minute) })
	if err != nil {
		t.Fatalf("NewWriter bravo: %v", err)
	}
	defer open.Close()

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Manifest.SessionID != "alpha" || entries[0].Open() {
		t.Fatalf("expected sealed alpha first, got %+v", entries[0])
	}
	if entries[0].Header.CompletionCode != "ABCDEFGHIJ" || entries[0].Header.Seed != 7 {
		t.Fatalf("unexpected header: %+v", entries[0].Header)
	}
	if entries[1].Manifest.SessionID != "bravo" || !entries[1].Open() {
		t.Fatalf("expected open bravo second, got %+v", entries[1])
	}

	payload, err := MarshalEntries(entries)
	if err != nil {
		t.Fatalf("MarshalEntries: %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("expected JSON payload to be non-empty")
	}
}

func TestListRejectsMissingRoot(t *testing.T) {
	if _, err := List(""); err == nil {
		t.Fatal("expected empty root to be rejected")
	}
	if _, err := List(t.TempDir() + "/missing"); err == nil {
		t.Fatal("expected missing root to be rejected")
	}
}
