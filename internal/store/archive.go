package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/harrison/ergon/internal/models"
)

const archiveLockName = ".archive.lock"

// Archive writes one JSON file per report into a directory. Several
// processes may share the directory; writes are serialized with a file lock
// and land atomically.
type Archive struct {
	Dir string
}

// NewArchive creates an archive rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{Dir: dir}
}

// SaveReport writes report to <dir>/<flow-id>.json.
func (a *Archive) SaveReport(ctx context.Context, report *models.ExecutionReport) error {
	if report == nil || report.FlowID == "" {
		return errors.New("report has no flow id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", a.Dir, err)
	}

	lock := flock.New(filepath.Join(a.Dir, archiveLockName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", a.Dir, err)
	}
	defer lock.Unlock()

	return atomicWrite(a.path(report.FlowID), data)
}

// Load reads an archived report.
func (a *Archive) Load(flowID string) (*models.ExecutionReport, error) {
	data, err := os.ReadFile(a.path(flowID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, flowID)
	}
	if err != nil {
		return nil, err
	}
	var report models.ExecutionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse %s: %w", a.path(flowID), err)
	}
	return &report, nil
}

// List returns the flow IDs in the archive, sorted.
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *Archive) path(flowID string) string {
	return filepath.Join(a.Dir, filepath.Base(flowID)+".json")
}

// atomicWrite writes data through a temp file in the same directory and a
// rename, so readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	committed = true
	return nil
}
