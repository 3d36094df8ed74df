// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/casjay-forks/vlabstools/src/archive"
	"github.com/casjay-forks/vlabstools/src/config"
	"github.com/casjay-forks/vlabstools/src/logger"
	"github.com/casjay-forks/vlabstools/src/storage"
)

type memHistory struct {
	records []storage.Record
}

func (m *memHistory) HistoryAdd(ctx context.Context, rec storage.Record) (storage.Record, error) {
	m.records = append(m.records, rec)
	return rec, nil
}

func testService(t *testing.T, h History) *Service {
	t.Helper()

	log := logger.New("2006-01-02 15:04:05")
	log.SetWriter(io.Discard)

	return &Service{Log: log, History: h, Level: 6}
}

func writeTree(t *testing.T, dir string) {
	t.Helper()

	for name, body := range map[string]string{
		"a.txt":      "alpha",
		"sub/b.txt":  "bravo",
		"logs/c.log": "charlie",
	} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFolderRecordsHistory(t *testing.T) {
	src := filepath.Join(t.TempDir(), "site")
	writeTree(t, src)

	h := &memHistory{}
	s := testService(t, h)
	s.Destination = t.TempDir()
	s.Excludes = []string{"*.log"}

	out, err := s.Folder(context.Background(), FolderRequest{Options: archive.Options{Source: src}})
	if err != nil {
		t.Fatal(err)
	}

	if out.Files != 2 {
		t.Error("expected 2 files but got", out.Files)
	}
	if filepath.Dir(out.Path) != s.Destination {
		t.Error("archive not written to the default destination", out.Path)
	}

	if len(h.records) != 1 {
		t.Fatal("expected one history record")
	}
	rec := h.records[0]
	if rec.Kind != storage.KindZip || rec.Status != storage.StatusOK || rec.SHA256 != out.SHA256 || rec.Size != out.Size {
		t.Error("unexpected record", rec)
	}
}

func TestFolderFailureRecorded(t *testing.T) {
	h := &memHistory{}
	s := testService(t, h)

	_, err := s.Folder(context.Background(), FolderRequest{Options: archive.Options{Source: "/does/not/exist", Destination: t.TempDir()}})
	if err == nil {
		t.Fatal("expected error")
	}

	if len(h.records) != 1 || h.records[0].Status != storage.StatusFailed {
		t.Error("failure not recorded", h.records)
	}
}

func TestFolderUploadWithoutConfig(t *testing.T) {
	src := filepath.Join(t.TempDir(), "site")
	writeTree(t, src)

	s := testService(t, nil)
	_, err := s.Folder(context.Background(), FolderRequest{
		Options: archive.Options{Source: src, Destination: t.TempDir()},
		Upload:  true,
	})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Error("expected upload configuration error but got", err)
	}
}

func TestJobRetention(t *testing.T) {
	src := filepath.Join(t.TempDir(), "site")
	writeTree(t, src)
	dst := t.TempDir()

	s := testService(t, nil)
	job := config.BackupJob{Name: "Nightly www", Source: src, Destination: dst, Keep: 2}

	base := time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		req := JobRequest(job, base.Add(time.Duration(i)*time.Hour))
		if _, err := s.Folder(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatal("expected 2 archives to be kept but found", len(entries))
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "Nightly-www_20260201_") {
			t.Error("unexpected archive name", e.Name())
		}
	}
}

func TestTasks(t *testing.T) {
	s := testService(t, nil)

	tasks, err := s.Tasks([]config.BackupJob{
		{Name: "www", Schedule: "@daily", Source: "/srv/www"},
		{Name: "db dumps", Schedule: "0 2 * * *", Source: "/srv/dumps"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[1].ID != "backup-db-dumps" {
		t.Error("unexpected tasks", tasks)
	}

	if _, err := s.Tasks([]config.BackupJob{{Name: "a", Source: "/x"}, {Name: "a", Source: "/y"}}); err == nil {
		t.Error("expected duplicate name error")
	}
	if _, err := s.Tasks([]config.BackupJob{{Name: "a"}}); err == nil {
		t.Error("expected missing source error")
	}
}

func TestHumanSize(t *testing.T) {
	testData := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1536:    "1.5 KiB",
		5242880: "5.0 MiB",
	}

	for n, exp := range testData {
		if res := HumanSize(n); res != exp {
			t.Errorf("%d: expected %s but got %s", n, exp, res)
		}
	}
}
