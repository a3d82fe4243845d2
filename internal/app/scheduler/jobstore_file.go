package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/filestore"
)

// JobStore persists jobs.
type JobStore interface {
	Save(ctx context.Context, job Job) error
	Load(ctx context.Context, jobID string) (*Job, error)
	List(ctx context.Context) ([]Job, error)
	Delete(ctx context.Context, jobID string) error
}

// FileJobStore keeps one JSON file per job under dir.
type FileJobStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileJobStore returns a store rooted at dir; the directory is created on
// the first Save.
func NewFileJobStore(dir string) *FileJobStore {
	return &FileJobStore{dir: dir}
}

// Save writes job atomically, preserving CreatedAt across overwrites.
func (s *FileJobStore) Save(_ context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, err := s.loadLocked(job.ID); err == nil && job.CreatedAt.IsZero() {
		job.CreatedAt = existing.CreatedAt
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	data, err := jsonx.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("jobstore: marshal failed: %w", err)
	}
	if err := filestore.AtomicWrite(s.path(job.ID), data, 0o644); err != nil {
		return fmt.Errorf("jobstore: write failed: %w", err)
	}
	return nil
}

// Load reads one job.
func (s *FileJobStore) Load(_ context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobstore: job id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked(jobID)
}

func (s *FileJobStore) loadLocked(jobID string) (*Job, error) {
	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("jobstore: %w: %s", ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("jobstore: read failed: %w", err)
	}
	var job Job
	if err := jsonx.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("jobstore: unmarshal failed: %w", err)
	}
	return &job, nil
}

// List returns every readable job sorted by CreatedAt; corrupt files are
// skipped.
func (s *FileJobStore) List(_ context.Context) ([]Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobstore: readdir failed: %w", err)
	}
	var jobs []Job
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		job, err := s.loadLocked(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Delete removes a job file.
func (s *FileJobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(jobID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("jobstore: %w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("jobstore: delete failed: %w", err)
	}
	return nil
}

func (s *FileJobStore) path(jobID string) string {
	return filepath.Join(s.dir, filepath.Base(jobID)+".json")
}
