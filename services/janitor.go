package services

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-co-op/gocron"

	"pdf-rag-server/internal/logger"
)

// Janitor periodically removes stale files from the transient upload
// directory. Uploads normally disappear when ingestion succeeds; files that
// outlive the max age are orphans from enqueue failures or failed jobs whose
// operator-inspection window has passed.
type Janitor struct {
	scheduler *gocron.Scheduler
	uploadDir string
	maxAge    time.Duration
	interval  time.Duration
}

func NewJanitor(uploadDir string, interval, maxAge time.Duration) *Janitor {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &Janitor{
		scheduler: s,
		uploadDir: uploadDir,
		maxAge:    maxAge,
		interval:  interval,
	}
}

// Start schedules the sweep and runs the scheduler in the background.
func (j *Janitor) Start() error {
	_, err := j.scheduler.Every(j.interval).Tag("upload-sweep").Do(func() {
		if removed, err := j.Sweep(); err != nil {
			logger.Warn("Upload sweep failed", "error", err.Error())
		} else if removed > 0 {
			logger.Info("Swept stale uploads", "removed", removed)
		}
	})
	if err != nil {
		return err
	}
	j.scheduler.StartAsync()
	return nil
}

// Stop halts future sweeps.
func (j *Janitor) Stop() {
	j.scheduler.Stop()
}

// Sweep deletes files older than the max age and returns how many it removed.
// Individual deletion failures are logged and skipped.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.uploadDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("Failed to remove stale upload", "path", path, "error", err.Error())
			continue
		}
		removed++
	}
	return removed, nil
}
