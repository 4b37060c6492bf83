package bundlecatalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chicken/broker/internal/replay"
)

// Entry describes one session bundle found on disk. Header is nil while the session that
// owns the bundle is still running.
type Entry struct {
	Dir      string          `json:"dir"`
	Manifest replay.Manifest `json:"manifest"`
	Header   *replay.Header  `json:"header,omitempty"`
}

// Open reports whether the bundle has not been sealed yet.
func (e Entry) Open() bool { return e.Header == nil }

// List walks the directory tree and returns every bundle it finds, oldest first.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- A manifest marks a bundle directory; the header is optional.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != replay.ManifestFile {
			return nil
		}
		dir := filepath.Dir(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		entry := Entry{Dir: dir}
		if err := json.Unmarshal(data, &entry.Manifest); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		header, err := replay.ReadHeader(filepath.Join(dir, replay.HeaderFile))
		switch {
		case err == nil:
			entry.Header = &header
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("read header in %s: %w", dir, err)
		}
		entries = append(entries, entry)
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].Manifest.SessionID < entries[j].Manifest.SessionID
		}
		return entries[i].Manifest.CreatedAt < entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
