// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package backup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/casjay-forks/vlabstools/src/archive"
	"github.com/casjay-forks/vlabstools/src/config"
	"github.com/casjay-forks/vlabstools/src/scheduler"
)

// Scheduled backups get at most this long before they are cancelled.
const jobTimeout = 6 * time.Hour

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func jobSlug(name string) string {
	slug := strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(name), "-"), "-.")
	if slug == "" {
		return "job"
	}
	return slug
}

// JobRequest turns a configured job into a folder backup request for the
// given run time. Archives are named <job>_YYYYMMDD_HHMMSS.zip.
func JobRequest(job config.BackupJob, now time.Time) FolderRequest {
	slug := jobSlug(job.Name)

	return FolderRequest{
		Options: archive.Options{
			Source:      job.Source,
			Destination: job.Destination,
			Name:        slug + "_" + now.Format("20060102_150405") + ".zip",
			Password:    job.Password,
			Level:       job.Level,
			Excludes:    job.Excludes,
		},
		Upload: job.Upload,
		Keep:   job.Keep,
		Prefix: slug + "_",
	}
}

// Tasks builds one scheduler task per configured job.
func (s *Service) Tasks(jobs []config.BackupJob) ([]*scheduler.Task, error) {
	tasks := make([]*scheduler.Task, 0, len(jobs))
	seen := make(map[string]bool)

	for _, job := range jobs {
		if strings.TrimSpace(job.Source) == "" {
			return nil, fmt.Errorf("backup job %q: source is required", job.Name)
		}

		id := "backup-" + jobSlug(job.Name)
		if seen[id] {
			return nil, fmt.Errorf("backup job %q: duplicate name", job.Name)
		}
		seen[id] = true

		job := job
		tasks = append(tasks, &scheduler.Task{
			ID:       id,
			Name:     "Folder backup " + job.Name,
			Schedule: job.Schedule,
			Enabled:  true,
			Timeout:  jobTimeout,
			Handler: func(ctx context.Context) error {
				_, err := s.Folder(ctx, JobRequest(job, time.Now()))
				return err
			},
		})
	}

	return tasks, nil
}
