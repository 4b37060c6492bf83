package replay

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"chicken/broker/internal/logging"
)

func writeBundle(t *testing.T, root, name string, mod time.Time, closed bool, size int) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string][]byte{ManifestFile: []byte("{}"), EventsFile: make([]byte, size)}
	if closed {
		files[HeaderFile] = []byte("{}")
	}
	for file, data := range files {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
}

func remainingBundles(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func TestCleanerEnforcesMaxBundles(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	writeBundle(t, tmp, "alpha", now.Add(-3*time.Hour), true, 64)
	writeBundle(t, tmp, "bravo", now.Add(-2*time.Hour), true, 32)
	writeBundle(t, tmp, "charlie", now.Add(-time.Hour), true, 48)
	writeBundle(t, tmp, "live", now.Add(-4*time.Hour), false, 8)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxBundles: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	got := remainingBundles(t, tmp)
	want := []string{"bravo", "charlie", "live"}
	if len(got) != len(want) {
		t.Fatalf("expected %v retained, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v retained, got %v", want, got)
		}
	}
	stats := cleaner.Stats()
	if stats.Bundles != 3 || stats.Open != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Bytes != int64(32+48+8+2+2+2+2+2) {
		t.Fatalf("unexpected byte total %d", stats.Bytes)
	}
}

func TestCleanerPrunesByAge(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	writeBundle(t, tmp, "stale", now.Add(-72*time.Hour), false, 4)
	writeBundle(t, tmp, "fresh", now.Add(-time.Hour), true, 4)
	if err := os.WriteFile(filepath.Join(tmp, "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxAge: 36 * time.Hour}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	got := remainingBundles(t, tmp)
	if len(got) != 2 || got[0] != "fresh" || got[1] != "notes.txt" {
		t.Fatalf("unexpected survivors %v", got)
	}
}

func TestCleanerToleratesMissingDirectory(t *testing.T) {
	cleaner := NewCleaner(filepath.Join(t.TempDir(), "absent"), RetentionPolicy{MaxBundles: 1}, logging.NewTestLogger())
	cleaner.RunOnce()
	if cleaner.Stats().Bundles != 0 {
		t.Fatalf("expected empty stats")
	}
}
