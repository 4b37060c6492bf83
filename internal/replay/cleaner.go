package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"chicken/broker/internal/logging"
)

// RetentionPolicy defines how many bundles are retained on disk.
type RetentionPolicy struct {
	MaxBundles int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted bundles.
type StorageStats struct {
	Bundles   int       `json:"bundles"`
	Open      int       `json:"open"`
	Bytes     int64     `json:"bytes"`
	LastSweep time.Time `json:"last_sweep"`
}

// Cleaner periodically prunes session bundles according to a retention policy. Bundles
// without a header belong to running sessions and are only removed once they age out.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided bundle directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger.Named("bundle_retention"), now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) error {
	if c == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies immediately on startup.
	c.RunOnce()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.RunOnce()
		}
	}
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundleInfo struct {
	path    string
	size    int64
	modTime time.Time
	closed  bool
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("bundle scan failed", logging.Error(err), logging.String("directory", c.dir))
		}
		return
	}
	now := c.now()
	bundles := c.collect(entries)
	stats := StorageStats{LastSweep: now}
	keptClosed := 0
	for _, bundle := range bundles {
		reason := c.removalReason(bundle, now, keptClosed)
		if reason != "" {
			if err := os.RemoveAll(bundle.path); err != nil {
				c.log.Warn("bundle removal failed", logging.Error(err), logging.String("bundle", bundle.path))
			} else {
				c.log.Info("bundle removed", logging.String("bundle", filepath.Base(bundle.path)), logging.String("reason", reason))
				continue
			}
		}
		if bundle.closed {
			keptClosed++
		} else {
			stats.Open++
		}
		stats.Bundles++
		stats.Bytes += bundle.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []bundleInfo {
	bundles := make([]bundleInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if _, err := os.Stat(filepath.Join(path, ManifestFile)); err != nil {
			continue
		}
		info := bundleInfo{path: path}
		_, err := os.Stat(filepath.Join(path, HeaderFile))
		info.closed = err == nil
		walkErr := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			stat, err := d.Info()
			if err != nil {
				return err
			}
			info.size += stat.Size()
			if stat.ModTime().After(info.modTime) {
				info.modTime = stat.ModTime()
			}
			return nil
		})
		if walkErr != nil {
			c.log.Warn("bundle size failed", logging.Error(walkErr), logging.String("bundle", path))
			continue
		}
		bundles = append(bundles, info)
	}
	//1.- Newest first so the count limit favours recent sessions.
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) removalReason(bundle bundleInfo, now time.Time, keptClosed int) string {
	if c.policy.MaxAge > 0 && now.Sub(bundle.modTime) > c.policy.MaxAge {
		return fmt.Sprintf("age>%s", c.policy.MaxAge)
	}
	if bundle.closed && c.policy.MaxBundles > 0 && keptClosed >= c.policy.MaxBundles {
		return fmt.Sprintf(">=%d bundles", c.policy.MaxBundles)
	}
	return ""
}
