package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"evcal/internal/blob"
	"evcal/internal/config"
	appLog "evcal/internal/log"
)

const (
	filePrefix = "events-"
	fileSuffix = ".json"
	// Fixed width keeps lexical order equal to time order.
	stampLayout = "20060102T150405.000000000Z"
)

// Scheduler copies the events blob into a backup directory, either on a
// cron schedule or on demand via RunOnce.
type Scheduler struct {
	blobs blob.Store
	key   string
	dir   string
	keep  int
	now   func() time.Time

	cron *cron.Cron
}

// New builds a Scheduler for the blob under key. Nothing runs until Start
// or RunOnce.
func New(blobs blob.Store, key string, cfg config.BackupConfig) *Scheduler {
	keep := cfg.Keep
	if keep <= 0 {
		keep = 1
	}
	return &Scheduler{
		blobs: blobs,
		key:   key,
		dir:   cfg.Dir,
		keep:  keep,
		now:   time.Now,
	}
}

// RunOnce writes one backup file and prunes old ones. It returns the path
// written, or "" when the blob does not exist yet.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	data, ok, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		return "", fmt.Errorf("backup: read %q: %w", s.key, err)
	}
	if !ok {
		appLog.Debug("backup: nothing stored yet", "key", s.key)
		return "", nil
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("backup: %w", err)
	}
	name := filePrefix + s.now().UTC().Format(stampLayout) + fileSuffix
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("backup: write: %w", err)
	}

	removed, err := s.prune()
	if err != nil {
		appLog.Error("backup: prune failed", err, "dir", s.dir)
	}
	appLog.Info("backup written", "path", path, "bytes", len(data), "pruned", removed)
	return path, nil
}

// prune deletes all but the newest keep backups.
func (s *Scheduler) prune() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(n, filePrefix) && strings.HasSuffix(n, fileSuffix) {
			names = append(names, n)
		}
	}
	if len(names) <= s.keep {
		return 0, nil
	}
	sort.Strings(names)

	removed := 0
	for _, n := range names[:len(names)-s.keep] {
		if err := os.Remove(filepath.Join(s.dir, n)); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Start schedules RunOnce with a standard five-field cron spec. An empty
// spec leaves backups disabled.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if spec == "" {
		appLog.Info("backup: disabled (no cron spec)")
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			appLog.Error("backup: scheduled run failed", err)
		}
	}); err != nil {
		return fmt.Errorf("backup: invalid cron spec %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	appLog.Info("backup: scheduled", "cron", spec, "dir", s.dir, "keep", s.keep)
	return nil
}

// Stop halts the schedule and waits for a running backup to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
