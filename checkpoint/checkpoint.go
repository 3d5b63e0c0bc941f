// Package checkpoint persists multi-source job progress so an interrupted
// run can resume without re-doing completed sources.
//
// The primary checkpoint is human-readable JSON; a gob mirror is written
// alongside it as a corruption-recovery fallback. Writes are throttled —
// every persistEvery sub-query completions and always on engine
// completion or failure — trading a small redo window on crash for write
// throughput.
package checkpoint

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EngineProgress tracks one source's progress inside a job.
type EngineProgress struct {
	Completed    []string `json:"completed_queries"`
	Pending      []string `json:"pending_queries"`
	ResultsCount int      `json:"results_count"`
	StartedAt    int64    `json:"started_at,omitempty"` // unix millis
	FinishedAt   int64    `json:"finished_at,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// SearchJob is the persisted state of one multi-source run.
type SearchJob struct {
	JobID            string                     `json:"job_id"`
	Query            string                     `json:"query"`
	Sources          []string                   `json:"sources"`
	CompletedEngines []string                   `json:"completed_engines"`
	FailedEngines    []string                   `json:"failed_engines"`
	EngineProgress   map[string]*EngineProgress `json:"engine_progress"`
	ResultsCount     int                        `json:"results_count"`
	UniqueURLs       int                        `json:"unique_urls"`
	CreatedAt        int64                      `json:"created_at"` // unix millis
	UpdatedAt        int64                      `json:"updated_at"`
}

// ResumeInfo is what a restarted process needs to skip finished work.
type ResumeInfo struct {
	JobID            string
	Query            string
	CompletedEngines []string
	FailedEngines    []string
	PendingEngines   []string
}

// persistEvery is how many sub-query completions accumulate between
// durable writes.
const persistEvery = 10

// Manager wraps a SearchJob with throttled persistence.
type Manager struct {
	mu         sync.Mutex
	dir        string
	job        *SearchJob
	dirtyMarks int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) { m.now = fn }
}

// NewManager creates a manager for jobID in dir. If a checkpoint for the
// same jobID already exists it is loaded (falling back to the gob mirror,
// then to a fresh job with a warning if both are unreadable).
func NewManager(dir, jobID string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir: %w", err)
	}
	m := &Manager{
		dir:    dir,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}

	job, err := load(dir, jobID, m.logger)
	if err != nil {
		return nil, err
	}
	if job == nil {
		job = &SearchJob{
			JobID:          jobID,
			EngineProgress: make(map[string]*EngineProgress),
			CreatedAt:      m.now().UnixMilli(),
		}
	}
	m.job = job
	return m, nil
}

// load reads the JSON checkpoint, falling back to the gob mirror. Returns
// (nil, nil) when no checkpoint exists or both copies are corrupt.
func load(dir, jobID string, logger *slog.Logger) (*SearchJob, error) {
	primary := filepath.Join(dir, jobID+".json")
	data, err := os.ReadFile(primary)
	switch {
	case err == nil:
		var job SearchJob
		if jerr := json.Unmarshal(data, &job); jerr == nil {
			return &job, nil
		}
		logger.Warn("checkpoint: primary unreadable, trying backup", "job_id", jobID)
	case errors.Is(err, fs.ErrNotExist):
		// No primary; the backup may still exist after a partial write.
	default:
		logger.Warn("checkpoint: primary read failed, trying backup", "job_id", jobID, "error", err)
	}

	backup := filepath.Join(dir, jobID+".gob")
	f, err := os.Open(backup)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("checkpoint: backup unreadable, starting fresh", "job_id", jobID, "error", err)
		}
		return nil, nil
	}
	defer f.Close()

	var job SearchJob
	if err := gob.NewDecoder(f).Decode(&job); err != nil {
		logger.Warn("checkpoint: backup corrupt, starting fresh", "job_id", jobID, "error", err)
		return nil, nil
	}
	logger.Info("checkpoint: recovered from backup", "job_id", jobID)
	return &job, nil
}

// UpdateQueryInfo initialises per-source progress tracking for a job.
// Sources already completed or failed in a loaded checkpoint keep their
// state; new sources get empty progress.
func (m *Manager) UpdateQueryInfo(query string, sources []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.job.Query = query
	m.job.Sources = sources
	for _, code := range sources {
		if _, ok := m.job.EngineProgress[code]; !ok {
			m.job.EngineProgress[code] = &EngineProgress{}
		}
	}
	return m.persistLocked()
}

// MarkEngineStarted records that a source began processing.
func (m *Manager) MarkEngineStarted(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progressLocked(code)
	p.StartedAt = m.now().UnixMilli()
}

// MarkEngineCompleted records a source's clean completion and persists
// immediately.
func (m *Manager) MarkEngineCompleted(code string, resultCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.progressLocked(code)
	p.FinishedAt = m.now().UnixMilli()
	p.ResultsCount = resultCount
	m.job.ResultsCount += resultCount
	if !contains(m.job.CompletedEngines, code) {
		m.job.CompletedEngines = append(m.job.CompletedEngines, code)
	}
	return m.persistLocked()
}

// MarkEngineFailed records a source's terminal failure and persists
// immediately.
func (m *Manager) MarkEngineFailed(code string, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.progressLocked(code)
	p.FinishedAt = m.now().UnixMilli()
	p.Error = cause
	if !contains(m.job.FailedEngines, code) {
		m.job.FailedEngines = append(m.job.FailedEngines, code)
	}
	return m.persistLocked()
}

// MarkQueryCompleted records one sub-query finishing on a source.
// Persistence is throttled to every persistEvery marks.
func (m *Manager) MarkQueryCompleted(code, query string, resultCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.progressLocked(code)
	p.Completed = append(p.Completed, query)
	for i, q := range p.Pending {
		if q == query {
			p.Pending = append(p.Pending[:i], p.Pending[i+1:]...)
			break
		}
	}
	p.ResultsCount += resultCount

	m.dirtyMarks++
	if m.dirtyMarks >= persistEvery {
		return m.persistLocked()
	}
	m.job.UpdatedAt = m.now().UnixMilli()
	return nil
}

// SetUniqueURLs records the deduplicated result count for the job.
func (m *Manager) SetUniqueURLs(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job.UniqueURLs = n
}

// GetResumeInfo returns the state a restarted process needs: which
// sources are done (completed or failed) and which are still pending.
func (m *Manager) GetResumeInfo() ResumeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := ResumeInfo{
		JobID:            m.job.JobID,
		Query:            m.job.Query,
		CompletedEngines: append([]string(nil), m.job.CompletedEngines...),
		FailedEngines:    append([]string(nil), m.job.FailedEngines...),
	}
	for _, code := range m.job.Sources {
		if !contains(m.job.CompletedEngines, code) && !contains(m.job.FailedEngines, code) {
			info.PendingEngines = append(info.PendingEngines, code)
		}
	}
	return info
}

// Job returns a deep copy of the current job state.
func (m *Manager) Job() SearchJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	job := *m.job
	job.Sources = append([]string(nil), m.job.Sources...)
	job.CompletedEngines = append([]string(nil), m.job.CompletedEngines...)
	job.FailedEngines = append([]string(nil), m.job.FailedEngines...)
	job.EngineProgress = make(map[string]*EngineProgress, len(m.job.EngineProgress))
	for k, v := range m.job.EngineProgress {
		p := *v
		p.Completed = append([]string(nil), v.Completed...)
		p.Pending = append([]string(nil), v.Pending...)
		job.EngineProgress[k] = &p
	}
	return job
}

// Flush forces a durable write regardless of the throttle counter.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked()
}

// Cleanup deletes the checkpoint and its backup. Call only on clean job
// completion; after a crash both files remain for the next run to load.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, ext := range []string{".json", ".gob"} {
		path := filepath.Join(m.dir, m.job.JobID+ext)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("checkpoint: remove %s: %w", path, err)
			}
		}
	}
	return firstErr
}

func (m *Manager) progressLocked(code string) *EngineProgress {
	p, ok := m.job.EngineProgress[code]
	if !ok {
		p = &EngineProgress{}
		m.job.EngineProgress[code] = p
	}
	return p
}

// persistLocked writes the JSON primary and gob mirror atomically
// (write-to-temp then rename). Must be called with mu held.
func (m *Manager) persistLocked() error {
	m.job.UpdatedAt = m.now().UnixMilli()
	m.dirtyMarks = 0

	primary := filepath.Join(m.dir, m.job.JobID+".json")
	data, err := json.MarshalIndent(m.job, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if err := writeAtomic(primary, data); err != nil {
		return fmt.Errorf("checkpoint: write primary: %w", err)
	}

	backup := filepath.Join(m.dir, m.job.JobID+".gob")
	tmp, err := os.CreateTemp(m.dir, m.job.JobID+".gob.tmp*")
	if err != nil {
		return fmt.Errorf("checkpoint: temp backup: %w", err)
	}
	if err := gob.NewEncoder(tmp).Encode(m.job); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: encode backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: close backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), backup); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("checkpoint: rename backup: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
